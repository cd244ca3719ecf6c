package ai

import (
	"context"
	"io"
)

// Run lifecycle statuses as reported by the provider.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCompleted      = "completed"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
	RunStatusExpired        = "expired"
)

// Assistant is the provider-side persona bound to one user (or the global
// fallback).
type Assistant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

type Thread struct {
	ID string `json:"id"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error"`
}

// Active reports whether the run still occupies its thread. The provider
// allows at most one such run per thread.
func (r Run) Active() bool {
	return r.Status == RunStatusQueued || r.Status == RunStatusInProgress
}

// Terminal reports whether the run reached a final state.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

type MessageContent struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text"`
}

// Message is one entry of a thread's ordered history.
type Message struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

// Text returns the first text content block, if any.
func (m Message) Text() string {
	for _, c := range m.Content {
		if c.Type == "text" {
			return c.Text.Value
		}
	}
	return ""
}

type VectorStore struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type VectorStoreFile struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type CreateAssistantRequest struct {
	Name         string
	Model        string
	Instructions string
	// VectorStoreID, when set, is attached as the assistant's file_search
	// resource so answers can cite the user's reference library.
	VectorStoreID string
}

type UpdateAssistantRequest struct {
	Instructions  string
	VectorStoreID string
}

// AssistantAPI is the narrow capability surface this service needs from the
// LLM provider. Production code talks to OpenAI through it; tests substitute
// a fake.
type AssistantAPI interface {
	CreateAssistant(ctx context.Context, req CreateAssistantRequest) (Assistant, error)
	RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error)
	UpdateAssistant(ctx context.Context, assistantID string, req UpdateAssistantRequest) (Assistant, error)

	CreateVectorStore(ctx context.Context, name string, metadata map[string]string) (VectorStore, error)
	RetrieveVectorStore(ctx context.Context, vectorStoreID string) (VectorStore, error)
	ListVectorStoreFiles(ctx context.Context, vectorStoreID string, limit int) ([]VectorStoreFile, error)
	AttachVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error
	DetachVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error

	UploadFile(ctx context.Context, filename string, content io.Reader) (File, error)
	DeleteFile(ctx context.Context, fileID string) error

	CreateThread(ctx context.Context) (Thread, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (Message, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)

	CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	ListRuns(ctx context.Context, threadID string, limit int) ([]Run, error)
}
