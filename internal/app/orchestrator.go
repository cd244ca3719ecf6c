package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tutorhub/internal/util"
	"tutorhub/pkg/ai"
	"tutorhub/pkg/domain"
)

const (
	maxMessageLength         = 10000
	maxTitleLength           = 50
	defaultConversationTitle = "New Conversation"

	apologyResponse = "I apologize, but I couldn't generate a response. Please try again."
)

// Reply is the outcome of one chat turn.
type Reply struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// StreamEvent is one element of the streaming response sequence. The order
// is always: one "conversation_id", zero or more "chunk", then exactly one
// "done" or "error".
type StreamEvent struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// SendMessage runs one blocking chat turn and returns the assistant's reply.
func (a *App) SendMessage(ctx context.Context, user domain.User, conversationID, message, ipAddress string, opts ContextOptions) (Reply, error) {
	turn, err := a.beginTurn(ctx, user, conversationID, message, opts)
	if err != nil {
		return Reply{}, err
	}

	run, err := a.provider.CreateRun(ctx, turn.threadID, turn.assistantID, turn.instructions)
	if err != nil {
		return Reply{}, fmt.Errorf("start run: %w", err)
	}
	if err := a.awaitRun(ctx, turn.threadID, run.ID, nil); err != nil {
		return Reply{}, err
	}

	responseText := a.latestAssistantText(ctx, turn.threadID)
	if responseText == "" {
		slog.Warn("run completed without response text", "threadId", turn.threadID, "runId", run.ID)
		responseText = apologyResponse
	}
	responseText = RewriteCitations(responseText, a.store)

	a.persistExchange(user, turn, responseText, ipAddress, "chat")
	return Reply{Response: responseText, ConversationID: turn.conversationID}, nil
}

// SendMessageStream runs one chat turn, emitting events through emit as the
// response grows. Errors never escape past the event boundary: the sequence
// always ends with a single "done" or "error" event. Client disconnects stop
// delivery but the run finishes server-side and the exchange is still
// persisted.
func (a *App) SendMessageStream(ctx context.Context, user domain.User, conversationID, message, ipAddress string, opts ContextOptions, emit func(StreamEvent)) {
	turn, err := a.beginTurn(ctx, user, conversationID, message, opts)
	if err != nil {
		emit(StreamEvent{Type: "error", Data: err.Error()})
		return
	}
	emit(StreamEvent{Type: "conversation_id", Data: turn.conversationID})

	run, err := a.provider.CreateRun(ctx, turn.threadID, turn.assistantID, turn.instructions)
	if err != nil {
		emit(StreamEvent{Type: "error", Data: fmt.Sprintf("start run: %v", err)})
		return
	}

	var snapshot string
	runErr := a.awaitRun(ctx, turn.threadID, run.ID, func() {
		full := a.latestAssistantText(ctx, turn.threadID)
		if len(full) > len(snapshot) && strings.HasPrefix(full, snapshot) {
			emit(StreamEvent{Type: "chunk", Data: full[len(snapshot):]})
			snapshot = full
		}
	})
	if runErr != nil {
		a.persistExchange(user, turn, snapshot, ipAddress, "stream")
		emit(StreamEvent{Type: "error", Data: runErr.Error()})
		return
	}

	// Flush whatever arrived between the last poll and completion. Chunks
	// stay raw so they concatenate cleanly with earlier ones; citation
	// tokens are rewritten only in the persisted transcript.
	full := a.latestAssistantText(ctx, turn.threadID)
	if full == "" {
		full = apologyResponse
		emit(StreamEvent{Type: "chunk", Data: full})
	} else if len(full) > len(snapshot) && strings.HasPrefix(full, snapshot) {
		emit(StreamEvent{Type: "chunk", Data: full[len(snapshot):]})
	}

	a.persistExchange(user, turn, RewriteCitations(full, a.store), ipAddress, "stream")
	emit(StreamEvent{Type: "done"})
}

// turnState carries the per-turn resolution shared by both send paths.
type turnState struct {
	conversationID string
	threadID       string
	assistantID    string
	instructions   string
	message        string
	firstMessage   bool
	learning       LearningContext
}

// beginTurn resolves identity, thread and context for one inbound message.
// Identity resolution comes first so a configuration failure leaves no
// mapping or transcript rows behind.
func (a *App) beginTurn(ctx context.Context, user domain.User, conversationID, message string, opts ContextOptions) (turnState, error) {
	message = sanitizeMessage(message)
	if message == "" {
		return turnState{}, fmt.Errorf("message required")
	}

	assistantID, err := a.ResolveEffectiveAssistant(ctx, user)
	if err != nil {
		return turnState{}, err
	}

	mapping, err := a.resolveOrCreateThread(ctx, user, conversationID)
	if err != nil {
		return turnState{}, err
	}

	a.cancelActiveRuns(ctx, mapping.ThreadID)

	learning := a.GatherContext(ctx, user, opts)
	instructions := learning.Render(time.Now())

	if _, err := a.provider.CreateMessage(ctx, mapping.ThreadID, "user", message); err != nil {
		return turnState{}, fmt.Errorf("append message: %w", err)
	}

	count, err := a.store.CountConversationMessages(user.ID, mapping.ConversationID)
	bestEffort(a.log, "count conversation messages", err, "conversationId", mapping.ConversationID)

	return turnState{
		conversationID: mapping.ConversationID,
		threadID:       mapping.ThreadID,
		assistantID:    assistantID,
		instructions:   instructions,
		message:        message,
		firstMessage:   mapping.Title == "" && count == 0,
		learning:       learning,
	}, nil
}

// cancelActiveRuns cancels every non-terminal run on the thread. The provider
// rejects a second concurrent run, so this must happen before each new run;
// its own failures are swallowed.
func (a *App) cancelActiveRuns(ctx context.Context, threadID string) {
	runs, err := a.provider.ListRuns(ctx, threadID, 10)
	if err != nil {
		bestEffort(a.log, "list runs", err, "threadId", threadID)
		return
	}
	for _, run := range runs {
		if !run.Active() {
			continue
		}
		bestEffort(a.log, "cancel lingering run", a.provider.CancelRun(ctx, threadID, run.ID),
			"threadId", threadID, "runId", run.ID)
	}
}

// awaitRun polls the run on a fixed interval until it reaches a terminal
// state. onPoll, when set, fires after each in-progress poll so the caller
// can observe partial output. A run asking for tool outputs is cancelled and
// fails the turn: this service registers no tools, so the state can never
// resolve.
func (a *App) awaitRun(ctx context.Context, threadID, runID string, onPoll func()) error {
	deadline := time.Now().Add(a.runTimeout)
	for {
		run, err := a.provider.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
		switch run.Status {
		case ai.RunStatusCompleted:
			return nil
		case ai.RunStatusFailed, ai.RunStatusCancelled, ai.RunStatusExpired:
			msg := "Unknown error"
			if run.LastError != nil && run.LastError.Message != "" {
				msg = run.LastError.Message
			}
			return fmt.Errorf("%w (%s): %s", ErrRunFailed, run.Status, msg)
		case ai.RunStatusRequiresAction:
			slog.Warn("run requires tool outputs, cancelling", "threadId", threadID, "runId", runID)
			bestEffort(a.log, "cancel run awaiting tools", a.provider.CancelRun(ctx, threadID, runID),
				"threadId", threadID, "runId", runID)
			return ErrToolCallsUnsupported
		}
		if onPoll != nil {
			onPoll()
		}
		if time.Now().After(deadline) {
			bestEffort(a.log, "cancel timed out run", a.provider.CancelRun(ctx, threadID, runID),
				"threadId", threadID, "runId", runID)
			return ErrRunTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

// latestAssistantText returns the newest assistant message's text, or "".
func (a *App) latestAssistantText(ctx context.Context, threadID string) string {
	messages, err := a.provider.ListMessages(ctx, threadID, 1)
	if err != nil {
		bestEffort(a.log, "list messages", err, "threadId", threadID)
		return ""
	}
	for _, msg := range messages {
		if msg.Role == "assistant" {
			return msg.Text()
		}
	}
	return ""
}

// persistExchange writes the transcript and audit rows for a finished turn.
// Persistence failures are logged, never surfaced: the provider-side effects
// already happened.
func (a *App) persistExchange(user domain.User, turn turnState, responseText, ipAddress, operation string) {
	now := time.Now().UTC()
	bestEffort(a.log, "persist transcript", a.store.AppendChatMessage(domain.ChatMessage{
		ID:             util.NewID(),
		UserID:         user.ID,
		ConversationID: turn.conversationID,
		Message:        turn.message,
		Response:       responseText,
		Context:        turn.learning.Summary(),
		CreatedAt:      now,
	}), "conversationId", turn.conversationID)
	bestEffort(a.log, "persist audit entry", a.store.AppendQueryLog(domain.QueryLog{
		ID:             util.NewID(),
		UserID:         user.ID,
		ConversationID: turn.conversationID,
		Query:          turn.message,
		Response:       responseText,
		OperationType:  operation,
		IPAddress:      ipAddress,
		CreatedAt:      now,
	}), "conversationId", turn.conversationID)
	if turn.firstMessage {
		bestEffort(a.log, "auto-title conversation",
			a.store.SetThreadMapTitle(turn.conversationID, generateTitle(turn.message)),
			"conversationId", turn.conversationID)
	}
	bestEffort(a.log, "bump conversation last-used", a.store.TouchThreadMap(turn.conversationID, now),
		"conversationId", turn.conversationID)
}

// sanitizeMessage trims and length-caps an inbound message.
func sanitizeMessage(message string) string {
	message = strings.TrimSpace(message)
	if len(message) > maxMessageLength {
		slog.Warn("message truncated", "originalLength", len(message))
		message = truncateAtRuneBoundary(message, maxMessageLength) + "... [message truncated]"
	}
	return message
}

// generateTitle derives a conversation title from its first message: collapse
// whitespace and cap the length at a word boundary.
func generateTitle(firstMessage string) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	if title == "" {
		return defaultConversationTitle
	}
	if len(title) > maxTitleLength {
		capped := truncateAtRuneBoundary(title, maxTitleLength)
		if idx := strings.LastIndex(capped, " "); idx > 0 {
			capped = capped[:idx]
		}
		title = capped + "..."
	}
	return title
}

// truncateAtRuneBoundary caps s at limit bytes, backing up so a multi-byte
// character is never split.
func truncateAtRuneBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
