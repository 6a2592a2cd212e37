package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/rezkam/jobcore/internal/config"
	"github.com/rezkam/jobcore/internal/continuation"
	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/retry"
	"github.com/rezkam/jobcore/internal/storage"
	"github.com/rezkam/jobcore/internal/storage/archive"
	"github.com/rezkam/jobcore/internal/storage/memory"
	sqlstorage "github.com/rezkam/jobcore/internal/storage/sql"
	"github.com/rezkam/jobcore/internal/worker"
	"github.com/rezkam/jobcore/pkg/observability"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("load worker config: %v", err)
	}

	otelEnabled := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
	providers, err := observability.Bootstrap(ctx, "jobcore-worker", otelEnabled)
	if err != nil {
		log.Fatalf("bootstrap observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "observability shutdown failed", "error", err)
		}
	}()

	logger := providers.Log

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	reg := filter.NewRegistry()
	reg.Register(continuation.Order, continuation.NewFilter(logger))

	retryFilter, err := retry.NewFilter(retry.NewTypeRegistry(), logger,
		retry.WithAttempts(cfg.Retry.Attempts),
		retry.WithOnAttemptsExceeded(retry.Action(cfg.Retry.OnAttemptsExceeded)),
		retry.WithLogEvents(cfg.Retry.LogEvents),
	)
	if err != nil {
		log.Fatalf("configure retry filter: %v", err)
	}
	reg.Register(retry.Order, retryFilter)

	if cfg.Archive.Bucket != "" {
		archiveFilter, err := archive.NewResultArchiveFilter(ctx, cfg.Archive.Bucket, cfg.Archive.ThresholdBytes, logger)
		if err != nil {
			log.Fatalf("configure result archive filter: %v", err)
		}
		reg.Register(retry.Order+10, archiveFilter)
	}

	serverID, _ := os.Hostname()
	opts := []worker.Option{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithServerID(serverID),
	}
	if cfg.RateLimitPerSec > 0 {
		opts = append(opts, worker.WithRateLimit(rate.Limit(cfg.RateLimitPerSec), cfg.Concurrency))
	}
	w := worker.New(store, reg, echoHandler(logger), logger, opts...)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(sigCtx, "jobcore worker starting", "concurrency", cfg.Concurrency)
	if err := w.Start(sigCtx); err != nil && sigCtx.Err() == nil {
		logger.ErrorContext(sigCtx, "worker exited with error", "error", err)
	}
	logger.InfoContext(context.Background(), "jobcore worker stopped")
}

// echoHandler is a minimal demonstration Handler: it marks every job it
// runs as Succeeded, echoing the job's InvocationID back as the result. A
// real deployment supplies its own Handler translating InvocationID into
// the actual unit of work.
func echoHandler(log *slog.Logger) worker.Handler {
	return func(ctx context.Context, job *core.Job) core.State {
		log.InfoContext(ctx, "processing job", "job_id", job.ID, "invocation_id", job.InvocationID)
		var latency time.Duration
		if start := job.CurrentState.StartedAt; !start.IsZero() {
			latency = time.Since(start)
		}
		return core.SucceededState([]byte(job.InvocationID), latency, latency)
	}
}

func openStore(ctx context.Context, cfg *config.WorkerConfig) (storage.Store, error) {
	if cfg.Database.DSN == "" {
		return memory.NewStore(), nil
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dsn)
	}

	return sqlstorage.NewStore(ctx, sqlstorage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
}
