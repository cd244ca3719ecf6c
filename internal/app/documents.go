package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"tutorhub/internal/util"
	"tutorhub/pkg/domain"
)

// UploadDocument stores a document blob, records it and schedules a
// knowledge-base sync for the uploader.
func (a *App) UploadDocument(ctx context.Context, user domain.User, title, filename string, size int64, contentType string, content io.Reader) (domain.Document, error) {
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, fmt.Errorf("filename required")
	}
	if a.blobs == nil {
		return domain.Document{}, fmt.Errorf("no blob store configured")
	}
	if strings.TrimSpace(title) == "" {
		title = filenameStem(filename)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:         util.NewID(),
		Title:      strings.TrimSpace(title),
		Filename:   filename,
		StorageKey: fmt.Sprintf("documents/%s/%s-%s", user.ID, util.NewID(), filename),
		SizeBytes:  size,
		MimeType:   contentType,
		Category:   domain.CategoryUserUpload,
		UploaderID: user.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.blobs.Put(ctx, doc.StorageKey, content, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store blob: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}

	a.scheduleSync(ctx, user.ID, "document uploaded")
	return doc, nil
}

// ListDocuments returns the documents visible to the user: their uploads plus
// shared standard documents.
func (a *App) ListDocuments(user domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListVisibleDocuments(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListUploadedDocuments returns only the user's own uploads, newest first.
func (a *App) ListUploadedDocuments(user domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByUploader(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list uploaded documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument soft-deletes an uploaded document and schedules a sync so
// the provider-side copy is detached and released.
func (a *App) DeleteDocument(ctx context.Context, user domain.User, documentID string) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.Deleted {
		return ErrDocumentNotFound
	}
	if doc.UploaderID != user.ID && user.Role != domain.RoleAdmin {
		return ErrDocumentForbidden
	}
	if err := a.store.SoftDeleteDocument(documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if a.blobs != nil {
		if err := a.blobs.Delete(ctx, doc.StorageKey); err != nil {
			slog.Warn("delete document blob failed", "documentId", documentID, "error", err)
		}
	}

	a.scheduleSync(ctx, doc.UploaderID, "document deleted")
	return nil
}

// scheduleSync enqueues a background reconciliation, falling back to an
// inline best-effort sync when no queue is wired.
func (a *App) scheduleSync(ctx context.Context, userID, reason string) {
	if a.syncQueue != nil {
		if _, err := a.syncQueue.Enqueue(ctx, userID, reason); err != nil {
			slog.Warn("enqueue knowledge sync failed", "userId", userID, "error", err)
		}
		return
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil || !ok {
		slog.Warn("inline knowledge sync skipped", "userId", userID, "error", err)
		return
	}
	if _, err := a.SyncKnowledge(ctx, user); err != nil {
		slog.Warn("inline knowledge sync failed", "userId", userID, "error", err)
	}
}

// SyncKnowledgeForUser is the queue-worker entry point.
func (a *App) SyncKnowledgeForUser(ctx context.Context, userID string) error {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return nil
	}
	_, err = a.SyncKnowledge(ctx, user)
	return err
}
