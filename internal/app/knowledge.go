package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"tutorhub/pkg/ai"
	"tutorhub/pkg/domain"
	"tutorhub/pkg/storage"
)

// SyncKnowledge converges the user's vector store onto the set of documents
// currently visible to them: own uploads plus shared standard documents,
// excluding soft-deleted ones. Running it twice with no document changes is a
// no-op. One document failing does not abort the rest; the combined error is
// returned after the full pass.
func (a *App) SyncKnowledge(ctx context.Context, user domain.User) (string, error) {
	vectorStoreID, err := a.EnsureVectorStore(ctx, user)
	if err != nil {
		return "", err
	}
	user.VectorStoreID = vectorStoreID

	docs, err := a.store.ListVisibleDocuments(user.ID)
	if err != nil {
		return vectorStoreID, fmt.Errorf("list documents: %w", err)
	}
	// Zero limit: the diff below needs the complete attached set.
	attachedList, err := a.provider.ListVectorStoreFiles(ctx, vectorStoreID, 0)
	if err != nil {
		return vectorStoreID, fmt.Errorf("list vector store files: %w", err)
	}
	attached := make(map[string]bool, len(attachedList))
	for _, f := range attachedList {
		attached[f.ID] = true
	}

	desired := make(map[string]bool, len(docs))
	var errs []error
	for _, doc := range docs {
		fileID, err := a.syncDocument(ctx, vectorStoreID, doc, attached)
		if err != nil {
			slog.Warn("document sync failed", "documentId", doc.ID, "error", err)
			errs = append(errs, fmt.Errorf("document %s: %w", doc.ID, err))
			continue
		}
		if fileID != "" {
			desired[fileID] = true
		}
	}

	// Detach and release anything attached that no visible document claims.
	for fileID := range attached {
		if desired[fileID] {
			continue
		}
		if err := a.provider.DetachVectorStoreFile(ctx, vectorStoreID, fileID); err != nil {
			slog.Warn("detach stale file failed", "fileId", fileID, "error", err)
			errs = append(errs, fmt.Errorf("detach %s: %w", fileID, err))
			continue
		}
		if err := a.provider.DeleteFile(ctx, fileID); !ai.IsNotFound(err) {
			bestEffort(a.log, "release stale file", err, "fileId", fileID)
		}
	}

	a.bindAssistantLibrary(ctx, user)

	return vectorStoreID, errors.Join(errs...)
}

// syncDocument brings one document into the vector store and returns its
// provider file id, or "" when the document was skipped.
func (a *App) syncDocument(ctx context.Context, vectorStoreID string, doc domain.Document, attached map[string]bool) (string, error) {
	if doc.ProviderFileID != "" {
		if attached[doc.ProviderFileID] {
			return doc.ProviderFileID, nil
		}
		// Known upstream but detached: reattach by id, no re-upload.
		err := a.provider.AttachVectorStoreFile(ctx, vectorStoreID, doc.ProviderFileID)
		if err == nil {
			return doc.ProviderFileID, nil
		}
		if !ai.IsNotFound(err) {
			return "", fmt.Errorf("reattach: %w", err)
		}
		slog.Warn("provider file vanished, re-uploading", "documentId", doc.ID, "fileId", doc.ProviderFileID)
	}

	if a.blobs == nil {
		return "", fmt.Errorf("no blob store configured")
	}
	blob, err := a.blobs.Get(ctx, doc.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("document blob missing, skipping", "documentId", doc.ID, "storageKey", doc.StorageKey)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	defer blob.Close()

	file, err := a.uploadAndAttach(ctx, vectorStoreID, doc.Filename, blob)
	if err != nil {
		return "", err
	}
	bestEffort(a.log, "persist provider file id", a.store.SetDocumentProviderFileID(doc.ID, file.ID),
		"documentId", doc.ID)
	return file.ID, nil
}

func (a *App) uploadAndAttach(ctx context.Context, vectorStoreID, filename string, content io.Reader) (ai.File, error) {
	file, err := a.provider.UploadFile(ctx, filename, content)
	if err != nil {
		return ai.File{}, fmt.Errorf("upload: %w", err)
	}
	if err := a.provider.AttachVectorStoreFile(ctx, vectorStoreID, file.ID); err != nil {
		return ai.File{}, fmt.Errorf("attach: %w", err)
	}
	return file, nil
}

// bindAssistantLibrary points the user's personal assistant at their vector
// store so file_search can ground answers. Best-effort.
func (a *App) bindAssistantLibrary(ctx context.Context, user domain.User) {
	if user.AssistantID == "" || user.VectorStoreID == "" {
		return
	}
	_, err := a.provider.UpdateAssistant(ctx, user.AssistantID, ai.UpdateAssistantRequest{
		Instructions:  a.instructions,
		VectorStoreID: user.VectorStoreID,
	})
	bestEffort(a.log, "bind assistant vector store", err, "userId", user.ID)
}
