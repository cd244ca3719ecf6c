package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

// resolveOrCreateThread returns the provider thread bound to a conversation,
// creating both the thread and its mapping on first use. Safe to call once
// per inbound message; a concurrent first use of the same conversation id is
// resolved through the mapping's uniqueness constraint.
func (a *App) resolveOrCreateThread(ctx context.Context, user domain.User, conversationID string) (domain.ThreadMap, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		mapping, ok, err := a.store.GetThreadMap(conversationID)
		if err != nil {
			return domain.ThreadMap{}, fmt.Errorf("load thread mapping: %w", err)
		}
		if ok {
			if mapping.UserID != user.ID {
				return domain.ThreadMap{}, ErrConversationForbidden
			}
			if err := a.store.TouchThreadMap(conversationID, time.Now().UTC()); err != nil {
				slog.Warn("bump conversation last-used failed", "conversationId", conversationID, "error", err)
			}
			return mapping, nil
		}
	} else {
		conversationID = uuid.NewString()
	}

	thread, err := a.provider.CreateThread(ctx)
	if err != nil {
		return domain.ThreadMap{}, fmt.Errorf("create thread: %w", err)
	}
	now := time.Now().UTC()
	mapping := domain.ThreadMap{
		ConversationID: conversationID,
		ThreadID:       thread.ID,
		UserID:         user.ID,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	err = a.store.CreateThreadMap(mapping)
	if errors.Is(err, store.ErrConflict) {
		// Lost a concurrent first-use race; the winner's thread is the
		// conversation's thread from now on.
		existing, ok, getErr := a.store.GetThreadMap(conversationID)
		if getErr != nil || !ok {
			return domain.ThreadMap{}, fmt.Errorf("resolve conflicting thread mapping: %w", err)
		}
		if existing.UserID != user.ID {
			return domain.ThreadMap{}, ErrConversationForbidden
		}
		return existing, nil
	}
	if err != nil {
		return domain.ThreadMap{}, fmt.Errorf("create thread mapping: %w", err)
	}
	return mapping, nil
}

// ListConversations returns the user's conversations, newest first.
func (a *App) ListConversations(user domain.User, limit, offset int) ([]domain.ConversationSummary, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}
	mappings, err := a.store.ListThreadMaps(user.ID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	total, err := a.store.CountThreadMaps(user.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	summaries := make([]domain.ConversationSummary, 0, len(mappings))
	for _, m := range mappings {
		count, err := a.store.CountConversationMessages(user.ID, m.ConversationID)
		if err != nil {
			slog.Warn("count conversation messages failed", "conversationId", m.ConversationID, "error", err)
		}
		summaries = append(summaries, domain.ConversationSummary{
			ConversationID: m.ConversationID,
			Title:          m.Title,
			MessageCount:   count,
			LastMessageAt:  m.LastUsedAt,
			CreatedAt:      m.CreatedAt,
		})
	}
	return summaries, total, nil
}

// GetConversation returns one conversation summary owned by the user.
func (a *App) GetConversation(user domain.User, conversationID string) (domain.ConversationSummary, error) {
	mapping, err := a.ownedMapping(user, conversationID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	count, err := a.store.CountConversationMessages(user.ID, conversationID)
	if err != nil {
		return domain.ConversationSummary{}, fmt.Errorf("count conversation messages: %w", err)
	}
	return domain.ConversationSummary{
		ConversationID: mapping.ConversationID,
		Title:          mapping.Title,
		MessageCount:   count,
		LastMessageAt:  mapping.LastUsedAt,
		CreatedAt:      mapping.CreatedAt,
	}, nil
}

// ConversationHistory returns the transcript in chronological order.
func (a *App) ConversationHistory(user domain.User, conversationID string) ([]domain.ChatMessage, error) {
	if _, err := a.ownedMapping(user, conversationID); err != nil {
		return nil, err
	}
	messages, err := a.store.ListConversationMessages(user.ID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return messages, nil
}

// RecentHistory returns the user's latest transcript rows, newest first,
// across all conversations unless a conversation id narrows it.
func (a *App) RecentHistory(user domain.User, conversationID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = a.historyLimit
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		if _, err := a.ownedMapping(user, conversationID); err != nil {
			return nil, err
		}
	}
	messages, err := a.store.ListChatHistory(user.ID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes the mapping and transcript. Audit entries are
// retained for platform analytics.
func (a *App) DeleteConversation(user domain.User, conversationID string) error {
	if _, err := a.ownedMapping(user, conversationID); err != nil {
		return err
	}
	if err := a.store.DeleteConversationMessages(user.ID, conversationID); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if err := a.store.DeleteThreadMap(conversationID); err != nil {
		return fmt.Errorf("delete thread mapping: %w", err)
	}
	return nil
}

// UpdateConversationTitle renames a conversation.
func (a *App) UpdateConversationTitle(user domain.User, conversationID, title string) error {
	if _, err := a.ownedMapping(user, conversationID); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title required")
	}
	if err := a.store.SetThreadMapTitle(conversationID, generateTitle(title)); err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

func (a *App) ownedMapping(user domain.User, conversationID string) (domain.ThreadMap, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.ThreadMap{}, ErrConversationNotFound
	}
	mapping, ok, err := a.store.GetThreadMap(conversationID)
	if err != nil {
		return domain.ThreadMap{}, fmt.Errorf("load thread mapping: %w", err)
	}
	if !ok {
		return domain.ThreadMap{}, ErrConversationNotFound
	}
	if mapping.UserID != user.ID {
		return domain.ThreadMap{}, ErrConversationForbidden
	}
	return mapping, nil
}
