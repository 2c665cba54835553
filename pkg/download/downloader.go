// Package download materializes model bytes on disk. At most one download
// runs per model id; duplicate requests observe the same in-flight operation
// and share its progress.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// ErrCancelled marks a cooperatively cancelled download. The model record is
// left in error("cancelled") and partial bytes are removed.
var ErrCancelled = errors.New("cancelled")

// progressInterval throttles persisted progress writes.
const progressInterval = 500 * time.Millisecond

// Downloader coordinates model downloads.
type Downloader struct {
	store     *store.Store
	publisher *events.Publisher
	modelDir  string
	hfToken   string

	mu       sync.Mutex
	inflight map[string]*operation
}

type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a downloader writing under modelDir.
func New(st *store.Store, publisher *events.Publisher, modelDir, hfToken string) *Downloader {
	return &Downloader{
		store:     st,
		publisher: publisher,
		modelDir:  modelDir,
		hfToken:   hfToken,
		inflight:  make(map[string]*operation),
	}
}

// Start begins downloading the model in the background. Idempotent: when the
// model is already present and force is false, or a download is already in
// flight, no new fetch is started. Returns whether a fetch was started.
func (d *Downloader) Start(ctx context.Context, modelID string, force bool) (bool, error) {
	m, err := d.store.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if m.DownloadStatus == models.DownloadPresent && !force {
		return false, nil
	}

	d.mu.Lock()
	if _, running := d.inflight[modelID]; running {
		d.mu.Unlock()
		return false, nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	op := &operation{cancel: cancel, done: make(chan struct{})}
	d.inflight[modelID] = op
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.inflight, modelID)
			d.mu.Unlock()
			close(op.done)
		}()
		d.run(runCtx, m)
	}()

	return true, nil
}

// Cancel requests cooperative cancellation of an in-flight download.
// No-op when nothing is in flight.
func (d *Downloader) Cancel(modelID string) bool {
	d.mu.Lock()
	op, ok := d.inflight[modelID]
	d.mu.Unlock()
	if ok {
		op.cancel()
	}
	return ok
}

// Wait blocks until any in-flight download for the model finishes.
func (d *Downloader) Wait(modelID string) {
	d.mu.Lock()
	op, ok := d.inflight[modelID]
	d.mu.Unlock()
	if ok {
		<-op.done
	}
}

// InFlight reports whether a download is currently running for the model.
func (d *Downloader) InFlight(modelID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[modelID]
	return ok
}

// Shutdown cancels all in-flight downloads and waits for them to settle.
func (d *Downloader) Shutdown() {
	d.mu.Lock()
	ops := make([]*operation, 0, len(d.inflight))
	for _, op := range d.inflight {
		op.cancel()
		ops = append(ops, op)
	}
	d.mu.Unlock()
	for _, op := range ops {
		<-op.done
	}
}

func (d *Downloader) run(ctx context.Context, m *models.Model) {
	slog.Info("Starting model download",
		"model_id", m.ID, "source", m.Source, "upstream_id", m.UpstreamID)

	d.setStatus(m.ID, models.DownloadDownloading, 0, "")
	d.publisher.PublishModelDownloadProgress(m.ID, models.DownloadDownloading, 0, "download started")

	dest := d.destination(m)
	localPath, err := d.fetch(ctx, m, dest)

	switch {
	case err == nil:
		d.finish(m.ID, localPath)
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		d.cleanupPartial(dest)
		d.fail(m.ID, ErrCancelled.Error())
	default:
		d.cleanupPartial(dest)
		d.fail(m.ID, err.Error())
	}
}

// fetch dispatches on the model source and returns the final local path.
func (d *Downloader) fetch(ctx context.Context, m *models.Model, dest string) (string, error) {
	report := d.progressReporter(m.ID)

	switch m.Source {
	case models.SourceLocal:
		if _, err := os.Stat(m.UpstreamID); err != nil {
			return "", fmt.Errorf("local model path %s: %w", m.UpstreamID, err)
		}
		return m.UpstreamID, nil

	case models.SourceURL:
		if err := fetchURL(ctx, m.UpstreamID, dest, report); err != nil {
			return "", err
		}
		return dest, nil

	case models.SourceRegistry, models.SourceBuiltin:
		repo := hfRepoFor(m)
		if err := fetchHuggingFace(ctx, repo, m.Revision, dest, d.hfToken, report); err != nil {
			return "", err
		}
		return dest, nil
	}

	return "", fmt.Errorf("unknown model source %q", m.Source)
}

// hfRepoFor maps builtin short names onto their hub repositories.
func hfRepoFor(m *models.Model) string {
	if m.Source == models.SourceBuiltin && m.Engine == models.EngineFasterWhisper &&
		!strings.Contains(m.UpstreamID, "/") {
		return "Systran/faster-whisper-" + m.UpstreamID
	}
	return m.UpstreamID
}

func (d *Downloader) destination(m *models.Model) string {
	safe := strings.NewReplacer("/", "--", ":", "_").Replace(m.UpstreamID)
	return filepath.Join(d.modelDir, string(m.Engine), safe)
}

// progressReporter returns a throttled callback persisting progress and
// fanning it out to observers.
func (d *Downloader) progressReporter(modelID string) func(fraction float64) {
	var last time.Time
	return func(fraction float64) {
		now := time.Now()
		if now.Sub(last) < progressInterval && fraction < 1 {
			return
		}
		last = now
		pct := fraction * 100
		d.setStatus(modelID, models.DownloadDownloading, pct, "")
		d.publisher.PublishModelDownloadProgress(modelID, models.DownloadDownloading, pct, "")
	}
}

func (d *Downloader) finish(modelID, localPath string) {
	_, err := d.store.UpdateModel(context.Background(), modelID, func(m *models.Model) error {
		m.DownloadStatus = models.DownloadPresent
		m.DownloadProgress = 100
		m.DownloadError = ""
		m.LocalPath = localPath
		return nil
	})
	if err != nil {
		slog.Error("Failed to record download completion", "model_id", modelID, "error", err)
	}
	d.publisher.PublishModelDownloadProgress(modelID, models.DownloadPresent, 100, "download complete")
	slog.Info("Model download complete", "model_id", modelID, "local_path", localPath)
}

func (d *Downloader) fail(modelID, message string) {
	_, err := d.store.UpdateModel(context.Background(), modelID, func(m *models.Model) error {
		m.DownloadStatus = models.DownloadError
		m.DownloadError = message
		return nil
	})
	if err != nil {
		slog.Error("Failed to record download failure", "model_id", modelID, "error", err)
	}
	d.publisher.PublishModelDownloadProgress(modelID, models.DownloadError, 0, message)
	slog.Warn("Model download failed", "model_id", modelID, "reason", message)
}

func (d *Downloader) setStatus(modelID string, status models.DownloadStatus, progress float64, errMsg string) {
	_, err := d.store.UpdateModel(context.Background(), modelID, func(m *models.Model) error {
		m.DownloadStatus = status
		m.DownloadProgress = progress
		m.DownloadError = errMsg
		return nil
	})
	if err != nil {
		slog.Warn("Failed to persist download progress", "model_id", modelID, "error", err)
	}
}

// cleanupPartial removes partially downloaded bytes. Never removes paths
// outside the model directory (local-source models point at user files).
func (d *Downloader) cleanupPartial(dest string) {
	rel, err := filepath.Rel(d.modelDir, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.RemoveAll(dest); err != nil {
		slog.Warn("Failed to remove partial download", "path", dest, "error", err)
	}
}
