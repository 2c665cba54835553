// scribed server — provides the transcription HTTP API, manages queue
// workers and orchestrates job processing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openscribe/scribed/pkg/api"
	"github.com/openscribe/scribed/pkg/cleanup"
	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/database"
	"github.com/openscribe/scribed/pkg/download"
	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/pipeline"
	"github.com/openscribe/scribed/pkg/queue"
	"github.com/openscribe/scribed/pkg/services"
	"github.com/openscribe/scribed/pkg/store"
	"github.com/openscribe/scribed/pkg/sysinfo"
	"github.com/openscribe/scribed/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		slog.Error("Failed to create data directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting scribed", "version", version.Full(), "host", cfg.Host, "port", cfg.Port)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())

	// 3. Event fanout (in-process bus, optional broker bridge)
	bus := events.NewBus()
	var bridge *events.RedisBridge
	if cfg.EventBrokerURL != "" {
		bridge, err = events.NewRedisBridge(ctx, cfg.EventBrokerURL)
		if err != nil {
			slog.Warn("Event broker unavailable, continuing without bridge",
				"url", cfg.EventBrokerURL, "error", err)
			bridge = nil
		} else {
			slog.Info("Event broker bridge connected", "url", cfg.EventBrokerURL)
		}
	}
	publisher := events.NewPublisher(bus, bridge)
	defer publisher.Close()

	// 4. One-time startup orphan recovery
	if err := queue.RecoverStartupOrphans(ctx, st, publisher); err != nil {
		slog.Error("Failed to recover startup orphans", "error", err)
		// Non-fatal — continue
	}

	// 5. Model registry and engine infrastructure
	downloader := download.New(st, publisher, cfg.ModelDir, cfg.HFToken)
	modelService := services.NewModelService(st, downloader)

	engineCache := engine.NewCache(cfg.ModelIdleTimeout)
	defer engineCache.Close()
	loader := engine.NewLoader(engine.DefaultRegistry(), engineCache, engine.Options{
		Device:      cfg.Device,
		ComputeType: cfg.ComputeType,
		Threads:     cfg.WhisperThreads,
		HFToken:     cfg.HFToken,
	})

	// 6. Derive the concurrency limit from hardware unless configured
	workerCount := cfg.MaxConcurrentJobs
	if workerCount <= 0 {
		hw := sysinfo.Probe(ctx)
		workerCount = hw.RecommendedWorkers
		slog.Info("Derived worker count from hardware",
			"workers", workerCount, "device", hw.RecommendedDevice, "gpus", len(hw.GPUs))
	}

	// 7. Domain services
	jobService := services.NewJobService(st, publisher, cfg)
	queueService := services.NewQueueService(st, publisher, workerCount)
	batchService := services.NewBatchService(st, publisher, cfg, jobService, queueService)
	slog.Info("Services initialized")

	// 8. Worker pool
	executor := pipeline.NewExecutor(st, publisher, cfg, modelService, loader)
	pool := queue.NewWorkerPool(st, publisher, executor, workerCount)
	queueService.SetRunCanceller(pool)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 9. Retention sweeps (no-op unless JOB_RETENTION_DAYS is set)
	cleanupSvc := cleanup.NewService(cfg, st)
	cleanupSvc.Start(ctx)

	// 10. WebSocket fanout: new connections get a queue snapshot first
	connManager := events.NewConnectionManager(bus, func(ctx context.Context) any {
		status, err := queueService.Status(ctx)
		if err != nil {
			slog.Warn("Failed to build queue snapshot for new connection", "error", err)
			return nil
		}
		return map[string]any{"type": "queue_snapshot", "data": status}
	}, 10*time.Second)

	// 11. HTTP server
	httpServer, err := api.NewServer(cfg, dbClient, st,
		jobService, queueService, batchService, modelService,
		pool, connManager, loader)
	if err != nil {
		slog.Error("Failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("scribed started successfully", "workers", workerCount)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: workers first, then background services, then HTTP
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — running jobs will be orphan-recovered on restart")
	}

	cleanupSvc.Stop()
	downloader.Shutdown()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
