// Package api exposes the HTTP surface: REST endpoints for jobs, batches,
// the queue and the model registry, plus WebSocket endpoints for event
// fanout and live transcription.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/database"
	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/metrics"
	"github.com/openscribe/scribed/pkg/queue"
	"github.com/openscribe/scribed/pkg/services"
	"github.com/openscribe/scribed/pkg/store"
	"github.com/openscribe/scribed/pkg/version"
)

// Server is the HTTP server wiring handlers to the service layer.
type Server struct {
	echo    *echo.Echo
	httpSrv *http.Server

	cfg   *config.Config
	db    *database.Client
	store *store.Store

	jobService   *services.JobService
	queueService *services.QueueService
	batchService *services.BatchService
	modelService *services.ModelService

	pool        *queue.WorkerPool
	connManager *events.ConnectionManager
	loader      *engine.Loader
}

// NewServer creates the server and registers all routes.
func NewServer(cfg *config.Config, db *database.Client, st *store.Store,
	jobSvc *services.JobService, queueSvc *services.QueueService,
	batchSvc *services.BatchService, modelSvc *services.ModelService,
	pool *queue.WorkerPool, connManager *events.ConnectionManager,
	loader *engine.Loader) (*Server, error) {

	e := echo.New()

	e.Use(middleware.Recover())
	e.Use(securityHeaders())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		}))
	}

	s := &Server{
		echo:         e,
		cfg:          cfg,
		db:           db,
		store:        st,
		jobService:   jobSvc,
		queueService: queueSvc,
		batchService: batchSvc,
		modelService: modelSvc,
		pool:         pool,
		connManager:  connManager,
		loader:       loader,
	}

	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerRoutes() error {
	e := s.echo

	e.GET("/health", s.healthHandler)

	metricsHandler, err := metrics.Handler(s.store)
	if err != nil {
		return err
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))

	v1 := e.Group("/api/v1")

	// Jobs
	v1.POST("/jobs", s.createJobHandler)
	v1.GET("/jobs", s.listJobsHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.DELETE("/jobs/:id", s.deleteJobHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
	v1.GET("/jobs/:id/transcript", s.getTranscriptHandler)
	v1.PATCH("/jobs/:id/speakers", s.remapSpeakersHandler)
	v1.GET("/jobs/statistics", s.statisticsHandler)

	// Batches
	v1.POST("/batches", s.createBatchHandler)
	v1.GET("/batches", s.listBatchesHandler)
	v1.GET("/batches/:id", s.getBatchHandler)
	v1.DELETE("/batches/:id", s.deleteBatchHandler)
	v1.GET("/batches/:id/export", s.exportBatchHandler)

	// Queue
	v1.GET("/queue/status", s.queueStatusHandler)
	v1.POST("/queue/reorder", s.reorderQueueHandler)
	v1.PATCH("/queue/:id/priority", s.setPriorityHandler)

	// Models
	v1.POST("/models", s.registerModelHandler)
	v1.GET("/models", s.listModelsHandler)
	v1.GET("/models/engines", s.modelEnginesHandler)
	v1.GET("/models/builtin", s.builtinModelsHandler)
	v1.GET("/models/:id", s.getModelHandler)
	v1.DELETE("/models/:id", s.deleteModelHandler)
	v1.POST("/models/:id/download", s.downloadModelHandler)
	v1.DELETE("/models/:id/download", s.cancelDownloadHandler)
	v1.POST("/models/:id/default", s.setDefaultModelHandler)

	// System
	v1.GET("/system/hardware", s.hardwareHandler)
	v1.GET("/system/gpu-usage", s.gpuUsageHandler)
	v1.POST("/system/benchmark", s.benchmarkHandler)
	v1.GET("/system/evaluate/:model_id", s.evaluateModelHandler)

	// WebSockets
	v1.GET("/queue/ws", s.wsHandler)
	v1.GET("/stream/ws", s.streamHandler)

	return nil
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	poolHealth := s.pool.Health()

	status := http.StatusOK
	overall := "healthy"
	if err != nil || !poolHealth.IsHealthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	if err != nil {
		slog.Warn("Database health check failed", "error", err)
	}

	return c.JSON(status, map[string]any{
		"status":   overall,
		"version":  version.Full(),
		"database": dbHealth,
		"workers":  poolHealth,
	})
}
