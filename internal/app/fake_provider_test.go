package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"tutorhub/pkg/ai"
)

// fakeProvider is an in-memory ai.AssistantAPI. Runs advance through
// runScript one status per poll; reaching "completed" appends reply as the
// thread's newest assistant message. Failures are injected per operation via
// fail.
type fakeProvider struct {
	mu sync.Mutex

	assistants   map[string]ai.Assistant
	vectorStores map[string]map[string]bool // vector store id -> attached file ids
	files        map[string]string          // file id -> filename
	threads      map[string][]ai.Message
	runs         map[string]*fakeRun

	reply     string
	runScript []string
	fail      map[string]error
	failOnce  map[string]error

	seq            int
	cancelledRuns  []string
	uploadedFiles  []string
	deletedFiles   []string
	createdThreads int
}

type fakeRun struct {
	run  ai.Run
	step int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		assistants:   make(map[string]ai.Assistant),
		vectorStores: make(map[string]map[string]bool),
		files:        make(map[string]string),
		threads:      make(map[string][]ai.Message),
		runs:         make(map[string]*fakeRun),
		reply:        "Hello! How can I help you today?",
		runScript:    []string{ai.RunStatusInProgress, ai.RunStatusCompleted},
		fail:         make(map[string]error),
		failOnce:     make(map[string]error),
	}
}

func (f *fakeProvider) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeProvider) failure(op string) error {
	if err, ok := f.failOnce[op]; ok {
		delete(f.failOnce, op)
		return err
	}
	return f.fail[op]
}

func (f *fakeProvider) CreateAssistant(_ context.Context, req ai.CreateAssistantRequest) (ai.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateAssistant"); err != nil {
		return ai.Assistant{}, err
	}
	a := ai.Assistant{ID: f.nextID("asst"), Name: req.Name, Model: req.Model, Instructions: req.Instructions}
	f.assistants[a.ID] = a
	return a, nil
}

func (f *fakeProvider) RetrieveAssistant(_ context.Context, assistantID string) (ai.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("RetrieveAssistant"); err != nil {
		return ai.Assistant{}, err
	}
	a, ok := f.assistants[assistantID]
	if !ok {
		return ai.Assistant{}, &ai.APIError{Status: 404, Message: "no assistant " + assistantID}
	}
	return a, nil
}

func (f *fakeProvider) UpdateAssistant(_ context.Context, assistantID string, req ai.UpdateAssistantRequest) (ai.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[assistantID]
	if !ok {
		return ai.Assistant{}, &ai.APIError{Status: 404, Message: "no assistant " + assistantID}
	}
	if req.Instructions != "" {
		a.Instructions = req.Instructions
	}
	f.assistants[assistantID] = a
	return a, nil
}

func (f *fakeProvider) CreateVectorStore(_ context.Context, name string, _ map[string]string) (ai.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateVectorStore"); err != nil {
		return ai.VectorStore{}, err
	}
	vs := ai.VectorStore{ID: f.nextID("vs"), Name: name}
	f.vectorStores[vs.ID] = make(map[string]bool)
	return vs, nil
}

func (f *fakeProvider) RetrieveVectorStore(_ context.Context, vectorStoreID string) (ai.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vectorStores[vectorStoreID]; !ok {
		return ai.VectorStore{}, &ai.APIError{Status: 404, Message: "no vector store " + vectorStoreID}
	}
	return ai.VectorStore{ID: vectorStoreID}, nil
}

func (f *fakeProvider) ListVectorStoreFiles(_ context.Context, vectorStoreID string, _ int) ([]ai.VectorStoreFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListVectorStoreFiles"); err != nil {
		return nil, err
	}
	var out []ai.VectorStoreFile
	for id := range f.vectorStores[vectorStoreID] {
		out = append(out, ai.VectorStoreFile{ID: id, Status: "completed"})
	}
	return out, nil
}

func (f *fakeProvider) AttachVectorStoreFile(_ context.Context, vectorStoreID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("AttachVectorStoreFile"); err != nil {
		return err
	}
	if _, ok := f.files[fileID]; !ok {
		return &ai.APIError{Status: 404, Message: "no file " + fileID}
	}
	vs, ok := f.vectorStores[vectorStoreID]
	if !ok {
		return &ai.APIError{Status: 404, Message: "no vector store " + vectorStoreID}
	}
	vs[fileID] = true
	return nil
}

func (f *fakeProvider) DetachVectorStoreFile(_ context.Context, vectorStoreID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vs, ok := f.vectorStores[vectorStoreID]; ok {
		delete(vs, fileID)
	}
	return nil
}

func (f *fakeProvider) UploadFile(_ context.Context, filename string, content io.Reader) (ai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UploadFile"); err != nil {
		return ai.File{}, err
	}
	_, _ = io.ReadAll(content)
	file := ai.File{ID: f.nextID("file"), Filename: filename}
	f.files[file.ID] = filename
	f.uploadedFiles = append(f.uploadedFiles, file.ID)
	return file, nil
}

func (f *fakeProvider) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, fileID)
	f.deletedFiles = append(f.deletedFiles, fileID)
	return nil
}

func (f *fakeProvider) CreateThread(_ context.Context) (ai.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateThread"); err != nil {
		return ai.Thread{}, err
	}
	t := ai.Thread{ID: f.nextID("thread")}
	f.threads[t.ID] = nil
	f.createdThreads++
	return t, nil
}

func (f *fakeProvider) CreateMessage(_ context.Context, threadID, role, content string) (ai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateMessage"); err != nil {
		return ai.Message{}, err
	}
	if _, ok := f.threads[threadID]; !ok {
		return ai.Message{}, &ai.APIError{Status: 404, Message: "no thread " + threadID}
	}
	msg := textMessage(f.nextID("msg"), role, content)
	f.threads[threadID] = append(f.threads[threadID], msg)
	return msg, nil
}

func (f *fakeProvider) ListMessages(_ context.Context, threadID string, limit int) ([]ai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.threads[threadID]
	// Newest first, like the real API.
	out := make([]ai.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeProvider) CreateRun(_ context.Context, threadID, assistantID, _ string) (ai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateRun"); err != nil {
		return ai.Run{}, err
	}
	if _, ok := f.assistants[assistantID]; !ok {
		return ai.Run{}, &ai.APIError{Status: 404, Message: "no assistant " + assistantID}
	}
	run := ai.Run{ID: f.nextID("run"), ThreadID: threadID, Status: ai.RunStatusQueued}
	f.runs[run.ID] = &fakeRun{run: run}
	return run, nil
}

func (f *fakeProvider) RetrieveRun(_ context.Context, threadID, runID string) (ai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.runs[runID]
	if !ok {
		return ai.Run{}, &ai.APIError{Status: 404, Message: "no run " + runID}
	}
	if fr.run.Terminal() {
		return fr.run, nil
	}
	status := f.runScript[len(f.runScript)-1]
	if fr.step < len(f.runScript) {
		status = f.runScript[fr.step]
	}
	fr.step++
	fr.run.Status = status
	if status == ai.RunStatusCompleted {
		msg := textMessage(f.nextID("msg"), "assistant", f.reply)
		f.threads[threadID] = append(f.threads[threadID], msg)
	}
	if status == ai.RunStatusFailed {
		fr.run.LastError = &ai.RunError{Code: "server_error", Message: "model exploded"}
	}
	return fr.run, nil
}

func (f *fakeProvider) CancelRun(_ context.Context, _, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fr, ok := f.runs[runID]; ok && !fr.run.Terminal() {
		fr.run.Status = ai.RunStatusCancelled
	}
	f.cancelledRuns = append(f.cancelledRuns, runID)
	return nil
}

func (f *fakeProvider) ListRuns(_ context.Context, threadID string, _ int) ([]ai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListRuns"); err != nil {
		return nil, err
	}
	var out []ai.Run
	for _, fr := range f.runs {
		if fr.run.ThreadID == threadID {
			out = append(out, fr.run)
		}
	}
	return out, nil
}

func textMessage(id, role, content string) ai.Message {
	msg := ai.Message{ID: id, Role: role}
	var block ai.MessageContent
	block.Type = "text"
	block.Text.Value = content
	msg.Content = []ai.MessageContent{block}
	return msg
}

var _ ai.AssistantAPI = (*fakeProvider)(nil)
