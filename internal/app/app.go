package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tutorhub/pkg/ai"
	"tutorhub/pkg/queue"
	"tutorhub/pkg/storage"
	"tutorhub/pkg/store"
)

const (
	defaultRunPollInterval = 500 * time.Millisecond
	defaultRunTimeout      = 2 * time.Minute
	defaultHistoryLimit    = 20
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseDSN string
	Store       store.Store
	Provider    ai.AssistantAPI
	Blobs       storage.BlobStore
	SyncQueue   queue.SyncQueue

	AssistantModel        string
	AssistantName         string
	AssistantInstructions string
	// GlobalAssistantID, when set and verifiable, is used for every user
	// instead of per-user assistants.
	GlobalAssistantID string

	RunPollInterval time.Duration
	RunTimeout      time.Duration
	HistoryLimit    int
}

// App wires storage, blob access and the assistant provider into the
// tutoring workflows.
type App struct {
	store     store.Store
	provider  ai.AssistantAPI
	blobs     storage.BlobStore
	syncQueue queue.SyncQueue

	model             string
	assistantName     string
	instructions      string
	globalAssistantID string

	pollInterval time.Duration
	runTimeout   time.Duration
	historyLimit int

	log *slog.Logger
}

// New constructs the application. When cfg.Store is nil a Postgres store is
// opened from cfg.DatabaseDSN.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("assistant provider required")
	}
	if strings.TrimSpace(cfg.AssistantModel) == "" {
		return nil, fmt.Errorf("assistant model required")
	}
	name := strings.TrimSpace(cfg.AssistantName)
	if name == "" {
		name = "Course Tutor"
	}
	instructions := strings.TrimSpace(cfg.AssistantInstructions)
	if instructions == "" {
		instructions = defaultAssistantInstructions
	}
	pollInterval := cfg.RunPollInterval
	if pollInterval <= 0 {
		pollInterval = defaultRunPollInterval
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	return &App{
		store:             dataStore,
		provider:          cfg.Provider,
		blobs:             cfg.Blobs,
		syncQueue:         cfg.SyncQueue,
		model:             cfg.AssistantModel,
		assistantName:     name,
		instructions:      instructions,
		globalAssistantID: strings.TrimSpace(cfg.GlobalAssistantID),
		pollInterval:      pollInterval,
		runTimeout:        runTimeout,
		historyLimit:      historyLimit,
		log:               slog.Default(),
	}, nil
}

// Store exposes the underlying data store for server-side lookups.
func (a *App) Store() store.Store {
	return a.store
}

const defaultAssistantInstructions = "You are a helpful course tutor. Answer questions using the learner's " +
	"reference documents when relevant, explain concepts step by step, and " +
	"encourage the learner to work through problems rather than handing over " +
	"final answers."
