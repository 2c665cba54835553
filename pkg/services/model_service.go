package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/scribed/pkg/download"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// ModelService manages the model registry and delegates byte materialization
// to the downloader.
type ModelService struct {
	store      *store.Store
	downloader *download.Downloader
}

// NewModelService creates a ModelService.
func NewModelService(st *store.Store, downloader *download.Downloader) *ModelService {
	return &ModelService{store: st, downloader: downloader}
}

// Register validates and inserts a new model. Registering the same
// (engine, upstream_id) twice is an ErrAlreadyExists.
func (s *ModelService) Register(ctx context.Context, req models.RegisterModelRequest) (*models.Model, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if !models.ValidModelType(req.ModelType) {
		return nil, NewValidationError("model_type", fmt.Sprintf("unknown model type %q", req.ModelType))
	}
	if !slices.Contains(models.EnginesForType(req.ModelType), req.Engine) {
		return nil, NewValidationError("engine", fmt.Sprintf("engine %q cannot run %s models", req.Engine, req.ModelType))
	}
	if !models.ValidModelSource(req.Source) {
		return nil, NewValidationError("source", fmt.Sprintf("unknown model source %q", req.Source))
	}
	if req.UpstreamID == "" {
		return nil, NewValidationError("upstream_id", "upstream_id is required")
	}

	m := &models.Model{
		ID:             uuid.NewString(),
		Name:           req.Name,
		ModelType:      req.ModelType,
		Engine:         req.Engine,
		Source:         req.Source,
		UpstreamID:     req.UpstreamID,
		Revision:       req.Revision,
		Info:           req.Info,
		ComputeType:    req.ComputeType,
		Device:         req.Device,
		IsDefault:      req.IsDefault,
		DownloadStatus: models.DownloadAbsent,
		CreatedAt:      time.Now().UTC(),
	}

	// Local models need no fetch: the path is the bytes.
	if req.Source == models.SourceLocal {
		if _, err := os.Stat(req.UpstreamID); err != nil {
			return nil, NewValidationError("upstream_id", fmt.Sprintf("local path %s is not readable", req.UpstreamID))
		}
		m.DownloadStatus = models.DownloadPresent
		m.DownloadProgress = 100
		m.LocalPath = req.UpstreamID
	}

	if err := s.store.CreateModel(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to register model: %w", err)
	}

	slog.Info("Model registered",
		"model_id", m.ID, "name", m.Name, "engine", m.Engine, "source", m.Source, "default", m.IsDefault)
	return m, nil
}

// Get returns a model by id.
func (s *ModelService) Get(ctx context.Context, id string) (*models.Model, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// List returns models matching the filters.
func (s *ModelService) List(ctx context.Context, filters models.ModelFilters) ([]*models.Model, error) {
	return s.store.ListModels(ctx, filters)
}

// Delete removes a model from the registry. In-flight downloads are cancelled
// first. When removeFiles is set, downloaded bytes are removed best-effort;
// local-source paths are never touched.
func (s *ModelService) Delete(ctx context.Context, id string, removeFiles bool) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.downloader.Cancel(id) {
		s.downloader.Wait(id)
	}

	if err := s.store.DeleteModel(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if removeFiles && m.Source != models.SourceLocal && m.LocalPath != "" {
		if err := os.RemoveAll(m.LocalPath); err != nil {
			slog.Warn("Failed to remove model files", "model_id", id, "path", m.LocalPath, "error", err)
		}
	}

	slog.Info("Model deleted", "model_id", id, "name", m.Name)
	return nil
}

// SetDefault makes the model the default for its type, clearing any previous
// default of the same type.
func (s *ModelService) SetDefault(ctx context.Context, id string) (*models.Model, error) {
	m, err := s.store.SetDefaultModel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	slog.Info("Default model changed", "model_id", m.ID, "model_type", m.ModelType)
	return m, nil
}

// Resolve returns the model to use for a stage: the explicit id when given,
// otherwise the type default. A model that exists but has no local bytes is
// ErrModelMissing, as is a missing default.
func (s *ModelService) Resolve(ctx context.Context, explicitID *string, t models.ModelType) (*models.Model, error) {
	var m *models.Model
	var err error
	if explicitID != nil && *explicitID != "" {
		m, err = s.store.GetModel(ctx, *explicitID)
	} else {
		m, err = s.store.GetDefaultModel(ctx, t)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no %s model configured: %w", t, ErrModelMissing)
		}
		return nil, err
	}

	if m.DownloadStatus != models.DownloadPresent {
		return nil, fmt.Errorf("model %s (%s) is not downloaded: %w", m.Name, m.ID, ErrModelMissing)
	}

	if err := s.store.TouchModel(ctx, m.ID); err != nil {
		slog.Warn("Failed to stamp model usage", "model_id", m.ID, "error", err)
	}
	return m, nil
}

// Download starts materializing the model's bytes in the background. Returns
// whether a new download was started.
func (s *ModelService) Download(ctx context.Context, id string, force bool) (bool, error) {
	started, err := s.downloader.Start(ctx, id, force)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return started, nil
}

// CancelDownload cancels an in-flight download. Returns whether one was
// in flight.
func (s *ModelService) CancelDownload(ctx context.Context, id string) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return s.downloader.Cancel(id), nil
}

// Engines lists the engines available per model type.
func (s *ModelService) Engines() map[models.ModelType][]models.ModelEngine {
	return map[models.ModelType][]models.ModelEngine{
		models.ModelTypeSTT:         models.EnginesForType(models.ModelTypeSTT),
		models.ModelTypeDiarization: models.EnginesForType(models.ModelTypeDiarization),
		models.ModelTypeTTS:         models.EnginesForType(models.ModelTypeTTS),
	}
}

// Builtin returns the built-in model catalog.
func (s *ModelService) Builtin() []models.BuiltinModel {
	return models.BuiltinCatalog()
}
