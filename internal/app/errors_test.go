package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

func TestBestEffortLogsOnlyFailures(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	bestEffort(log, "persist transcript", nil, "conversationId", "conv-1")
	if buf.Len() != 0 {
		t.Fatalf("nil error produced a log line: %s", buf.String())
	}

	bestEffort(log, "persist transcript", errors.New("disk full"), "conversationId", "conv-1")
	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected warn level: %s", out)
	}
	if !strings.Contains(out, "persist transcript") || !strings.Contains(out, "disk full") || !strings.Contains(out, "conv-1") {
		t.Fatalf("missing operation, error or attrs: %s", out)
	}
}

// failingTranscript drops every transcript write.
type failingTranscript struct {
	store.Store
}

func (failingTranscript) AppendChatMessage(domain.ChatMessage) error {
	return errors.New("transcript table gone")
}

func TestSendMessageSurvivesTranscriptWriteFailure(t *testing.T) {
	provider := newFakeProvider()
	a, _, user := newTestApp(t, provider)

	var buf bytes.Buffer
	a.log = slog.New(slog.NewTextHandler(&buf, nil))
	a.store = failingTranscript{a.store}

	reply, err := a.SendMessage(context.Background(), user, "", "hello", "", ContextOptions{})
	if err != nil {
		t.Fatalf("send failed on a non-fatal persistence error: %v", err)
	}
	if reply.Response != provider.reply {
		t.Fatalf("response = %q", reply.Response)
	}
	if !strings.Contains(buf.String(), "persist transcript") {
		t.Fatalf("swallowed failure not logged: %s", buf.String())
	}
}
