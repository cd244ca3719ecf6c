package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOpenAIClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient("   "); err == nil {
		t.Fatalf("expected error for blank api key")
	}
}

func TestCreateRunSendsAssistantAndInstructions(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing auth header")
		}
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			t.Fatalf("missing assistants beta header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Run{ID: "run_1", ThreadID: "thread_1", Status: RunStatusQueued})
	})

	run, err := client.CreateRun(context.Background(), "thread_1", "asst_1", "extra context")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.ID != "run_1" || run.Status != RunStatusQueued {
		t.Fatalf("unexpected run: %+v", run)
	}
	if got["assistant_id"] != "asst_1" || got["additional_instructions"] != "extra context" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestListActiveStatusHelpers(t *testing.T) {
	if !(Run{Status: RunStatusQueued}).Active() || !(Run{Status: RunStatusInProgress}).Active() {
		t.Fatalf("queued/in_progress should be active")
	}
	if (Run{Status: RunStatusCompleted}).Active() {
		t.Fatalf("completed should not be active")
	}
	for _, status := range []string{RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired} {
		if !(Run{Status: status}).Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
	if (Run{Status: RunStatusRequiresAction}).Terminal() {
		t.Fatalf("requires_action is not terminal")
	}
}

func TestUploadFileMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("purpose") != "assistants" {
			t.Fatalf("purpose = %q", r.FormValue("purpose"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.pdf" {
			t.Fatalf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(File{ID: "file_1", Filename: "notes.pdf"})
	})

	out, err := client.UploadFile(context.Background(), "notes.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.ID != "file_1" {
		t.Fatalf("unexpected file: %+v", out)
	}
}

func TestListVectorStoreFilesFollowsPagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vector_stores/vs_1/files" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("after") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"data":     []map[string]string{{"id": "file_1"}, {"id": "file_2"}},
				"has_more": true,
				"last_id":  "file_2",
			})
		case "file_2":
			json.NewEncoder(w).Encode(map[string]any{
				"data":     []map[string]string{{"id": "file_3"}},
				"has_more": false,
			})
		default:
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	})

	files, err := client.ListVectorStoreFiles(context.Background(), "vs_1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 3 || files[0].ID != "file_1" || files[2].ID != "file_3" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestListVectorStoreFilesHonorsLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Fatalf("limit = %q, want 2", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":     []map[string]string{{"id": "file_1"}, {"id": "file_2"}},
			"has_more": true,
			"last_id":  "file_2",
		})
	})

	files, err := client.ListVectorStoreFiles(context.Background(), "vs_1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"No assistant found","type":"invalid_request_error"}}`))
	})

	_, err := client.RetrieveAssistant(context.Background(), "asst_missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
	if !strings.Contains(err.Error(), "No assistant found") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestMessageTextPicksFirstTextBlock(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{
		"id": "msg_1",
		"role": "assistant",
		"content": [
			{"type": "image_file"},
			{"type": "text", "text": {"value": "hello"}}
		]
	}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text() != "hello" {
		t.Fatalf("text = %q", msg.Text())
	}
}
