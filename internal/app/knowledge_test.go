package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

func seedDocument(t *testing.T, a *App, memStore *store.MemoryStore, id, uploaderID, filename string, category domain.DocumentCategory) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:         id,
		Title:      filenameStem(filename),
		Filename:   filename,
		StorageKey: "documents/" + uploaderID + "/" + id + "-" + filename,
		Category:   category,
		UploaderID: uploaderID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := memStore.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := a.blobs.Put(context.Background(), doc.StorageKey, bytes.NewReader([]byte("content of "+filename)), 0, "text/plain"); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	return doc
}

func TestSyncKnowledgeUploadsAndAttachesFreshDocuments(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	doc := seedDocument(t, a, memStore, "doc-1", user.ID, "notes.pdf", domain.CategoryUserUpload)

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 1 {
		t.Fatalf("attached files = %d, want 1", len(provider.vectorStores[vsID]))
	}
	stored, _, _ := memStore.GetDocument(doc.ID)
	if stored.ProviderFileID == "" {
		t.Fatalf("provider file id not recorded")
	}
	if !provider.vectorStores[vsID][stored.ProviderFileID] {
		t.Fatalf("recorded file id %q not attached", stored.ProviderFileID)
	}
}

func TestSyncKnowledgeIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	seedDocument(t, a, memStore, "doc-1", user.ID, "notes.pdf", domain.CategoryUserUpload)

	if _, err := a.SyncKnowledge(context.Background(), user); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	uploadsAfterFirst := len(provider.uploadedFiles)

	user2, _, _ := memStore.GetUserByID(user.ID)
	if _, err := a.SyncKnowledge(context.Background(), user2); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(provider.uploadedFiles) != uploadsAfterFirst {
		t.Fatalf("second sync re-uploaded files: %d -> %d", uploadsAfterFirst, len(provider.uploadedFiles))
	}
}

func TestSyncKnowledgeEmptyLibraryIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 0 {
		t.Fatalf("expected empty vector store")
	}
	user2, _, _ := memStore.GetUserByID(user.ID)
	again, err := a.SyncKnowledge(context.Background(), user2)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again != vsID || len(provider.vectorStores[vsID]) != 0 {
		t.Fatalf("second sync changed state")
	}
}

func TestSyncKnowledgeDetachesStaleFiles(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	doc := seedDocument(t, a, memStore, "doc-1", user.ID, "notes.pdf", domain.CategoryUserUpload)

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := memStore.SoftDeleteDocument(doc.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	user2, _, _ := memStore.GetUserByID(user.ID)
	if _, err := a.SyncKnowledge(context.Background(), user2); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 0 {
		t.Fatalf("stale file still attached")
	}
	if len(provider.deletedFiles) == 0 {
		t.Fatalf("stale remote file not released")
	}
}

func TestSyncKnowledgeSkipsMissingBlobs(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	doc := domain.Document{
		ID:         "doc-orphan",
		Title:      "orphan",
		Filename:   "orphan.pdf",
		StorageKey: "documents/user-1/missing",
		Category:   domain.CategoryUserUpload,
		UploaderID: user.ID,
	}
	if err := memStore.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync should not fail on missing blob: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 0 {
		t.Fatalf("missing blob was attached")
	}
}

func TestSyncKnowledgePartialFailureContinues(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	seedDocument(t, a, memStore, "doc-1", user.ID, "one.pdf", domain.CategoryUserUpload)
	seedDocument(t, a, memStore, "doc-2", user.ID, "two.pdf", domain.CategoryUserUpload)

	provider.fail["UploadFile"] = &timeoutError{}
	if _, err := a.SyncKnowledge(context.Background(), user); err == nil {
		t.Fatalf("expected aggregated error")
	}

	// Both documents were attempted despite the first failure.
	delete(provider.fail, "UploadFile")
	user2, _, _ := memStore.GetUserByID(user.ID)
	vsID, err := a.SyncKnowledge(context.Background(), user2)
	if err != nil {
		t.Fatalf("recovery sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 2 {
		t.Fatalf("attached = %d, want 2", len(provider.vectorStores[vsID]))
	}
}

func TestSyncKnowledgeIncludesSharedStandardDocuments(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)
	seedDocument(t, a, memStore, "doc-own", user.ID, "mine.pdf", domain.CategoryUserUpload)
	seedDocument(t, a, memStore, "doc-shared", "instructor-1", "syllabus.pdf", domain.CategoryStandard)
	seedDocument(t, a, memStore, "doc-other", "someone-else", "private.pdf", domain.CategoryUserUpload)

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 2 {
		t.Fatalf("attached = %d, want own + standard only", len(provider.vectorStores[vsID]))
	}
}

func TestSyncKnowledgeConvergesSharedProviderFile(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)

	// Two document rows ended up pointing at the same provider file.
	file, err := provider.UploadFile(context.Background(), "shared.pdf", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("seed provider file: %v", err)
	}
	for _, id := range []string{"doc-1", "doc-2"} {
		doc := seedDocument(t, a, memStore, id, user.ID, "shared.pdf", domain.CategoryUserUpload)
		if err := memStore.SetDocumentProviderFileID(doc.ID, file.ID); err != nil {
			t.Fatalf("set provider file id: %v", err)
		}
	}
	uploadsBefore := len(provider.uploadedFiles)

	vsID, err := a.SyncKnowledge(context.Background(), user)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.vectorStores[vsID]) != 1 {
		t.Fatalf("attached files = %d, want exactly 1", len(provider.vectorStores[vsID]))
	}
	if len(provider.uploadedFiles) != uploadsBefore {
		t.Fatalf("shared file re-uploaded instead of reattached by id")
	}
	if len(provider.deletedFiles) != 0 {
		t.Fatalf("shared file wrongly treated as stale: %v", provider.deletedFiles)
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string { return "upload timed out" }
