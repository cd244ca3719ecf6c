package app

import (
	"testing"
	"time"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/storage"
	"tutorhub/pkg/store"
)

func newTestApp(t *testing.T, provider *fakeProvider) (*App, *store.MemoryStore, domain.User) {
	t.Helper()

	memStore := store.NewMemoryStore()
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := New(Config{
		Store:           memStore,
		Provider:        provider,
		Blobs:           blobs,
		AssistantModel:  "gpt-4o",
		RunPollInterval: time.Millisecond,
		RunTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	user := domain.User{
		ID:       "user-1",
		Email:    "learner@example.com",
		Username: "learner",
		Role:     domain.RoleStudent,
		Active:   true,
	}
	if err := memStore.SaveUser(user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return a, memStore, user
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), AssistantModel: "gpt-4o"})
	if err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), Provider: newFakeProvider()})
	if err == nil {
		t.Fatalf("expected error without model")
	}
}
