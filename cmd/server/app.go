package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calebwren/versio-api/internal/artifact"
	"github.com/calebwren/versio-api/internal/config"
	"github.com/calebwren/versio-api/internal/export"
	"github.com/calebwren/versio-api/internal/lifecycle"
	"github.com/calebwren/versio-api/internal/platform/postgres"
	"github.com/calebwren/versio-api/internal/queue"
	"github.com/calebwren/versio-api/internal/store"
)

// application holds the wired dependencies of the export service. Everything
// is constructed once in newApplication and torn down by cleanup.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	db          *sql.DB
	content     store.ContentReader
	queue       queue.Queue
	artifacts   *artifact.Store
	assembler   *export.Assembler
	worker      *export.Worker
	coordinator *lifecycle.Coordinator
}

// newApplication wires the full dependency graph from configuration.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupAppDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	content := postgres.NewPostgresContentReader(db)

	artifacts, err := artifact.NewStore(
		cfg.Artifact.Dir,
		time.Duration(cfg.Artifact.TTLMinutes)*time.Minute,
		logger,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	q, err := setupQueue(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	coordinator := lifecycle.NewCoordinator(lifecycle.Config{
		HeartbeatInterval: time.Duration(cfg.Lifecycle.HeartbeatIntervalSec) * time.Second,
		SweepInterval:     time.Duration(cfg.Artifact.SweepIntervalMinutes) * time.Minute,
		DrainGrace:        time.Duration(cfg.Lifecycle.DrainGraceSec) * time.Second,
		DrainPoll:         time.Duration(cfg.Lifecycle.DrainPollMs) * time.Millisecond,
	}, artifacts, q, logger)

	assembler := export.NewAssembler(content)
	worker := export.NewWorker(assembler, artifacts, coordinator.Hooks(), logger)

	return &application{
		config:      cfg,
		logger:      logger,
		db:          db,
		content:     content,
		queue:       q,
		artifacts:   artifacts,
		assembler:   assembler,
		worker:      worker,
		coordinator: coordinator,
	}, nil
}

// setupQueue builds the configured queue backend.
func setupQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	queueCfg := queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Queue.BackoffMaxMs) * time.Millisecond,
		ClaimExpiry: time.Duration(cfg.Queue.ClaimExpirySec) * time.Second,
	}

	switch cfg.Queue.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		return queue.NewRedisQueue(redis.NewClient(opts), queueCfg, logger), nil

	case "memory":
		return queue.NewMemoryQueue(queueCfg, logger), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// workOptions derives the queue polling parameters from configuration.
func (app *application) workOptions() queue.WorkOptions {
	return queue.WorkOptions{
		BatchSize:    app.config.Queue.BatchSize,
		PollInterval: time.Duration(app.config.Queue.PollIntervalMs) * time.Millisecond,
	}
}

// cleanup releases the application's external resources in reverse
// construction order.
func (app *application) cleanup() {
	if err := app.queue.Close(); err != nil {
		app.logger.Error("failed to close job queue", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database connection", "error", err)
	}
}
