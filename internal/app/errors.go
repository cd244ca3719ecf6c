package app

import (
	"errors"
	"log/slog"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationForbidden = errors.New("conversation forbidden")
	// ErrAssistantUnavailable means no assistant could be resolved for the
	// user and no usable global fallback is configured.
	ErrAssistantUnavailable = errors.New("assistant unavailable: check provider configuration")
	// ErrToolCallsUnsupported is returned when a run requests tool outputs;
	// this service never registers tools, so the run is cancelled instead.
	ErrToolCallsUnsupported = errors.New("tool invocation not supported")
	// ErrRunFailed wraps a run that reached a terminal non-success state; the
	// provider's error text is appended verbatim.
	ErrRunFailed         = errors.New("assistant run failed")
	ErrRunTimeout        = errors.New("assistant run timed out")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentForbidden = errors.New("document forbidden")
)

// bestEffort records a swallowed failure. Steps routed through it are logged
// and dropped; they never fail the surrounding operation. A nil err is a
// no-op, so call sites can pass a result straight through.
func bestEffort(log *slog.Logger, op string, err error, args ...any) {
	if err == nil {
		return
	}
	log.Warn(op, append(args, "error", err)...)
}
