package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements AssistantAPI against the OpenAI Assistants v2 API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type OpenAIOption func(*OpenAIClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

// NewOpenAIClient constructs a client with the provided API key.
func NewOpenAIClient(apiKey string, options ...OpenAIOption) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	c := &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    defaultOpenAIBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

type assistantPayload struct {
	Name          string         `json:"name,omitempty"`
	Model         string         `json:"model,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	Tools         []toolPayload  `json:"tools,omitempty"`
	ToolResources *toolResources `json:"tool_resources,omitempty"`
}

type toolPayload struct {
	Type string `json:"type"`
}

type toolResources struct {
	FileSearch struct {
		VectorStoreIDs []string `json:"vector_store_ids"`
	} `json:"file_search"`
}

func fileSearchResources(vectorStoreID string) (tools []toolPayload, res *toolResources) {
	if vectorStoreID == "" {
		return nil, nil
	}
	res = &toolResources{}
	res.FileSearch.VectorStoreIDs = []string{vectorStoreID}
	return []toolPayload{{Type: "file_search"}}, res
}

func (c *OpenAIClient) CreateAssistant(ctx context.Context, req CreateAssistantRequest) (Assistant, error) {
	tools, res := fileSearchResources(req.VectorStoreID)
	payload := assistantPayload{
		Name:          req.Name,
		Model:         req.Model,
		Instructions:  req.Instructions,
		Tools:         tools,
		ToolResources: res,
	}
	var out Assistant
	err := c.doJSON(ctx, http.MethodPost, "/assistants", payload, &out)
	return out, err
}

func (c *OpenAIClient) RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error) {
	var out Assistant
	err := c.doJSON(ctx, http.MethodGet, "/assistants/"+assistantID, nil, &out)
	return out, err
}

func (c *OpenAIClient) UpdateAssistant(ctx context.Context, assistantID string, req UpdateAssistantRequest) (Assistant, error) {
	tools, res := fileSearchResources(req.VectorStoreID)
	payload := assistantPayload{
		Instructions:  req.Instructions,
		Tools:         tools,
		ToolResources: res,
	}
	var out Assistant
	err := c.doJSON(ctx, http.MethodPost, "/assistants/"+assistantID, payload, &out)
	return out, err
}

func (c *OpenAIClient) CreateVectorStore(ctx context.Context, name string, metadata map[string]string) (VectorStore, error) {
	payload := struct {
		Name     string            `json:"name,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}{Name: name, Metadata: metadata}
	var out VectorStore
	err := c.doJSON(ctx, http.MethodPost, "/vector_stores", payload, &out)
	return out, err
}

func (c *OpenAIClient) RetrieveVectorStore(ctx context.Context, vectorStoreID string) (VectorStore, error) {
	var out VectorStore
	err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+vectorStoreID, nil, &out)
	return out, err
}

const vectorStoreFilePageSize = 100

// ListVectorStoreFiles pages through every file attached to the vector
// store. A limit of zero or less returns all of them.
func (c *OpenAIClient) ListVectorStoreFiles(ctx context.Context, vectorStoreID string, limit int) ([]VectorStoreFile, error) {
	var all []VectorStoreFile
	after := ""
	for {
		pageSize := vectorStoreFilePageSize
		if limit > 0 && limit-len(all) < pageSize {
			pageSize = limit - len(all)
		}
		path := "/vector_stores/" + vectorStoreID + "/files?limit=" + strconv.Itoa(pageSize)
		if after != "" {
			path += "&after=" + after
		}
		var out listResponse[VectorStoreFile]
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Data...)
		if (limit > 0 && len(all) >= limit) || !out.HasMore || out.LastID == "" {
			return all, nil
		}
		after = out.LastID
	}
}

func (c *OpenAIClient) AttachVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	payload := struct {
		FileID string `json:"file_id"`
	}{FileID: fileID}
	return c.doJSON(ctx, http.MethodPost, "/vector_stores/"+vectorStoreID+"/files", payload, nil)
}

func (c *OpenAIClient) DetachVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+vectorStoreID+"/files/"+fileID, nil, nil)
}

func (c *OpenAIClient) UploadFile(ctx context.Context, filename string, content io.Reader) (File, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return File{}, fmt.Errorf("write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return File{}, fmt.Errorf("copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return File{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return File{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return File{}, decodeAPIError(resp)
	}
	var out File
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return File{}, err
	}
	return out, nil
}

func (c *OpenAIClient) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, nil)
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (Thread, error) {
	var out Thread
	err := c.doJSON(ctx, http.MethodPost, "/threads", struct{}{}, &out)
	return out, err
}

func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID, role, content string) (Message, error) {
	payload := struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: role, Content: content}
	var out Message
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", payload, &out)
	return out, err
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	var out listResponse[Message]
	path := "/threads/" + threadID + "/messages" + limitQuery(limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID, additionalInstructions string) (Run, error) {
	payload := struct {
		AssistantID            string `json:"assistant_id"`
		AdditionalInstructions string `json:"additional_instructions,omitempty"`
	}{AssistantID: assistantID, AdditionalInstructions: additionalInstructions}
	var out Run
	err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", payload, &out)
	return out, err
}

func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	var out Run
	err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &out)
	return out, err
}

func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) error {
	return c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", struct{}{}, nil)
}

func (c *OpenAIClient) ListRuns(ctx context.Context, threadID string, limit int) ([]Run, error) {
	var out listResponse[Run]
	path := "/threads/" + threadID + "/runs" + limitQuery(limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type listResponse[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

func (c *OpenAIClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

func (c *OpenAIClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var apiErr apiErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Error.Message != "" {
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error.Message}
	}
	return &APIError{Status: resp.StatusCode, Message: resp.Status}
}

// APIError carries the provider's HTTP status and message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai api error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a provider 404, used to detect stale
// assistant and vector-store ids.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
