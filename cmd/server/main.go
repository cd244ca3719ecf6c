package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"tutorhub/internal/app"
	"tutorhub/internal/config"
	"tutorhub/internal/server"
	"tutorhub/internal/util"
	"tutorhub/pkg/ai"
	"tutorhub/pkg/queue"
	"tutorhub/pkg/storage"
	"tutorhub/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := buildStore(cfg)
	if err != nil {
		fatal(logger, "failed to init store", err)
	}
	sessions, err := buildSessions(cfg, dataStore)
	if err != nil {
		fatal(logger, "failed to init sessions", err)
	}
	blobs, err := buildBlobs(cfg)
	if err != nil {
		fatal(logger, "failed to init blob storage", err)
	}

	providerOpts := []ai.OpenAIOption{}
	if cfg.OpenAIBaseURL != "" {
		providerOpts = append(providerOpts, ai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	provider, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, providerOpts...)
	if err != nil {
		fatal(logger, "failed to init assistant provider", err)
	}

	var syncQueue *queue.RedisSyncQueue
	if cfg.RedisAddr != "" {
		syncQueue, err = queue.NewRedisSyncQueue(queue.RedisSyncQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.SyncStream,
			Group:    cfg.SyncGroup,
		})
		if err != nil {
			fatal(logger, "failed to init sync queue", err)
		}
	}

	appCfg := app.Config{
		Store:                 dataStore,
		Provider:              provider,
		Blobs:                 blobs,
		AssistantModel:        cfg.AssistantModel,
		AssistantName:         cfg.AssistantName,
		AssistantInstructions: cfg.AssistantInstructions,
		GlobalAssistantID:     cfg.GlobalAssistantID,
		RunPollInterval:       config.Duration(cfg.RunPollInterval, 500*time.Millisecond),
		RunTimeout:            config.Duration(cfg.RunTimeout, 2*time.Minute),
	}
	if syncQueue != nil {
		appCfg.SyncQueue = syncQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	if syncQueue != nil {
		concurrency := cfg.SyncConcurrency
		if concurrency <= 0 {
			concurrency = 2
		}
		syncQueue.Start(context.Background(), concurrency, func(ctx context.Context, job queue.SyncJob) error {
			return appCore.SyncKnowledgeForUser(ctx, job.UserID)
		})
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		fatal(logger, "failed to parse trusted proxies", err)
	}

	httpServer := server.New(server.Config{
		App:               appCore,
		Store:             dataStore,
		Sessions:          sessions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		TrustedProxies:    trustedProxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming responses outlive normal requests
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("tutorhub server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		slog.Warn("no database DSN configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseDSN)
}

func buildSessions(cfg config.FileConfig, dataStore store.Store) (store.SessionStore, error) {
	switch cfg.SessionBackend {
	case "redis":
		return store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword,
			config.Duration(cfg.SessionTTL, 30*24*time.Hour)), nil
	case "jwt":
		return store.NewJWTSessionStore(cfg.JWTSecret,
			config.Duration(cfg.SessionTTL, 30*24*time.Hour),
			store.JWTOptions{
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				Leeway:   config.Duration(cfg.JWTLeeway, 30*time.Second),
			})
	default:
		mem, ok := dataStore.(*store.MemoryStore)
		if !ok {
			return nil, fmt.Errorf("memory sessions require the in-memory store; set sessionBackend to redis or jwt")
		}
		return mem, nil
	}
}

func buildBlobs(cfg config.FileConfig) (storage.BlobStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL)
	}
	basePath := cfg.StorageBasePath
	if basePath == "" {
		basePath = "./data/blobs"
	}
	return storage.NewFileStore(basePath)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
