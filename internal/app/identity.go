package app

import (
	"context"
	"fmt"
	"log/slog"

	"tutorhub/pkg/ai"
	"tutorhub/pkg/domain"
)

// EnsureAssistant returns the user's personal assistant id, verifying any
// stored id upstream and transparently recreating it when the provider no
// longer knows it. A stale id is repaired, never surfaced as an error.
func (a *App) EnsureAssistant(ctx context.Context, user domain.User) (string, error) {
	if user.AssistantID != "" {
		_, err := a.provider.RetrieveAssistant(ctx, user.AssistantID)
		if err == nil {
			return user.AssistantID, nil
		}
		if !ai.IsNotFound(err) {
			return "", fmt.Errorf("verify assistant: %w", err)
		}
		slog.Warn("stored assistant id no longer exists, recreating",
			"userId", user.ID, "assistantId", user.AssistantID)
	}

	assistant, err := a.provider.CreateAssistant(ctx, ai.CreateAssistantRequest{
		Name:          a.assistantName + " - " + user.DisplayName(),
		Model:         a.model,
		Instructions:  a.instructions,
		VectorStoreID: user.VectorStoreID,
	})
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	// The assistant already exists upstream; a failed local write only opens
	// a bounded inconsistency window repaired on the next ensure.
	bestEffort(a.log, "persist assistant id", a.store.SetUserAssistantID(user.ID, assistant.ID),
		"userId", user.ID)
	return assistant.ID, nil
}

// EnsureVectorStore returns the user's vector store id, lazily creating one
// on first use.
func (a *App) EnsureVectorStore(ctx context.Context, user domain.User) (string, error) {
	if user.VectorStoreID != "" {
		_, err := a.provider.RetrieveVectorStore(ctx, user.VectorStoreID)
		if err == nil {
			return user.VectorStoreID, nil
		}
		if !ai.IsNotFound(err) {
			return "", fmt.Errorf("verify vector store: %w", err)
		}
		slog.Warn("stored vector store id no longer exists, recreating",
			"userId", user.ID, "vectorStoreId", user.VectorStoreID)
	}

	vs, err := a.provider.CreateVectorStore(ctx, "library-"+user.DisplayName(), map[string]string{
		"user_id": user.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	bestEffort(a.log, "persist vector store id", a.store.SetUserVectorStoreID(user.ID, vs.ID),
		"userId", user.ID)
	return vs.ID, nil
}

// ResolveEffectiveAssistant picks the assistant identity a chat turn should
// run with. A configured global assistant that still verifies upstream wins
// over the personal one; otherwise the personal assistant is ensured. When
// the personal path fails too, the global is verified once more before the
// turn fails as a configuration error: a transient verification failure can
// clear while the personal attempt is in flight.
func (a *App) ResolveEffectiveAssistant(ctx context.Context, user domain.User) (string, error) {
	if id := a.verifiedGlobalAssistant(ctx); id != "" {
		return id, nil
	}
	id, err := a.EnsureAssistant(ctx, user)
	if err == nil {
		return id, nil
	}
	if global := a.verifiedGlobalAssistant(ctx); global != "" {
		slog.Warn("personal assistant unavailable, using global",
			"userId", user.ID, "error", err)
		return global, nil
	}
	slog.Error("no assistant identity available", "userId", user.ID, "error", err)
	return "", ErrAssistantUnavailable
}

// verifiedGlobalAssistant returns the configured global assistant id when the
// provider still confirms it exists, or "" otherwise.
func (a *App) verifiedGlobalAssistant(ctx context.Context) string {
	if a.globalAssistantID == "" {
		return ""
	}
	if _, err := a.provider.RetrieveAssistant(ctx, a.globalAssistantID); err != nil {
		bestEffort(a.log, "verify global assistant", err, "assistantId", a.globalAssistantID)
		return ""
	}
	return a.globalAssistantID
}
