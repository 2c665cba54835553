package download

import (
	"context"
	stdsql "database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openscribe/scribed/pkg/database"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// newDownloadStore creates a store over a migrated PostgreSQL instance.
// In CI (CI_DATABASE_URL set) it connects to the external service container;
// locally it spins up a testcontainer.
func newDownloadStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db, "test"))

	// The CI database is shared across tests; start from a clean slate.
	_, err = db.ExecContext(ctx,
		`TRUNCATE jobs, job_batches, models, transcripts, transcript_segments, tts_outputs CASCADE`)
	require.NoError(t, err)

	return store.New(db)
}

func newTestDownloader(t *testing.T) (*Downloader, *store.Store, string) {
	t.Helper()
	st := newDownloadStore(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	modelDir := t.TempDir()
	return New(st, events.NewPublisher(bus, nil), modelDir, ""), st, modelDir
}

func downloadModel(source models.ModelSource, upstreamID string) *models.Model {
	return &models.Model{
		ID:             uuid.NewString(),
		Name:           upstreamID,
		ModelType:      models.ModelTypeSTT,
		Engine:         models.EngineFasterWhisper,
		Source:         source,
		UpstreamID:     upstreamID,
		DownloadStatus: models.DownloadAbsent,
		CreatedAt:      time.Now().UTC(),
	}
}

// fakeHub serves a one-file hub repository. The gate, when non-nil, holds the
// tree listing until released so tests can observe an in-flight download.
func fakeHub(t *testing.T, gate chan struct{}, treeCalls *int32) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/models/") {
			atomic.AddInt32(treeCalls, 1)
			if gate != nil {
				<-gate
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"type":"file","path":"model.bin","size":5}]`))
			return
		}
		w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)

	prev := hfBaseURL
	hfBaseURL = srv.URL
	t.Cleanup(func() { hfBaseURL = prev })
}

func TestHFRepoFor(t *testing.T) {
	short := downloadModel(models.SourceBuiltin, "small")
	assert.Equal(t, "Systran/faster-whisper-small", hfRepoFor(short))

	qualified := downloadModel(models.SourceBuiltin, "Systran/faster-whisper-small")
	assert.Equal(t, "Systran/faster-whisper-small", hfRepoFor(qualified))

	registry := downloadModel(models.SourceRegistry, "openai/whisper-large-v3")
	assert.Equal(t, "openai/whisper-large-v3", hfRepoFor(registry))
}

func TestStartDedupesConcurrentRequests(t *testing.T) {
	d, st, modelDir := newTestDownloader(t)
	ctx := context.Background()

	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	var treeCalls int32
	fakeHub(t, gate, &treeCalls)

	m := downloadModel(models.SourceBuiltin, "tiny-test")
	require.NoError(t, st.CreateModel(ctx, m))

	started, err := d.Start(ctx, m.ID, false)
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, d.InFlight(m.ID))

	// A second request while the first is fetching joins it.
	started, err = d.Start(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, started)

	release()
	d.Wait(m.ID)

	assert.EqualValues(t, 1, atomic.LoadInt32(&treeCalls), "only one fetch runs per model")

	got, err := st.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DownloadPresent, got.DownloadStatus)
	assert.InDelta(t, 100, got.DownloadProgress, 1e-9)

	data, err := os.ReadFile(filepath.Join(got.LocalPath, "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, strings.HasPrefix(got.LocalPath, modelDir))
}

func TestStartSkipsPresentModel(t *testing.T) {
	d, st, _ := newTestDownloader(t)
	ctx := context.Background()

	var treeCalls int32
	fakeHub(t, nil, &treeCalls)

	m := downloadModel(models.SourceBuiltin, "tiny-test")
	m.DownloadStatus = models.DownloadPresent
	require.NoError(t, st.CreateModel(ctx, m))

	started, err := d.Start(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, started)
	assert.EqualValues(t, 0, atomic.LoadInt32(&treeCalls))

	// force re-downloads even when the bytes are present.
	started, err = d.Start(ctx, m.ID, true)
	require.NoError(t, err)
	assert.True(t, started)
	d.Wait(m.ID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&treeCalls))
}

func TestCancelLeavesErrorStateAndNoPartialBytes(t *testing.T) {
	d, st, modelDir := newTestDownloader(t)
	ctx := context.Background()

	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	var treeCalls int32
	fakeHub(t, gate, &treeCalls)

	m := downloadModel(models.SourceBuiltin, "tiny-test")
	require.NoError(t, st.CreateModel(ctx, m))

	started, err := d.Start(ctx, m.ID, false)
	require.NoError(t, err)
	require.True(t, started)

	require.True(t, d.Cancel(m.ID))
	d.Wait(m.ID)
	release()

	got, err := st.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DownloadError, got.DownloadStatus)
	assert.Equal(t, "cancelled", got.DownloadError)

	_, err = os.Stat(filepath.Join(modelDir, "faster-whisper", "tiny-test"))
	assert.True(t, os.IsNotExist(err), "partial bytes are removed")

	assert.False(t, d.Cancel(m.ID), "nothing left in flight")
}

func TestCleanupPartialRefusesOutsideModelDir(t *testing.T) {
	modelDir := t.TempDir()
	d := &Downloader{modelDir: modelDir}

	outside := filepath.Join(t.TempDir(), "user-model.bin")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	d.cleanupPartial(outside)

	_, err := os.Stat(outside)
	assert.NoError(t, err, "paths outside the model directory are never removed")
}
