package services

import (
	"context"
	stdsql "database/sql"
	"os"
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

// newServiceStore creates a store over a migrated PostgreSQL instance.
// In CI (CI_DATABASE_URL set) it connects to the external service container;
// locally it spins up a testcontainer.
func newServiceStore(t *testing.T) *store.Store {
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

func newTestQueueService(t *testing.T) (*QueueService, *store.Store) {
	t.Helper()
	st := newServiceStore(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return NewQueueService(st, events.NewPublisher(bus, nil), 2), st
}

func queueTestJob(status models.JobStatus) *models.Job {
	return &models.Job{
		ID:            uuid.NewString(),
		Filename:      "interview.wav",
		OriginalPath:  "/uploads/interview.wav",
		FileSize:      1024,
		Language:      "auto",
		OutputFormats: []models.OutputFormat{models.FormatJSON},
		Priority:      models.PriorityDefault,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCancelQueuedJob(t *testing.T) {
	svc, st := newTestQueueService(t)
	ctx := context.Background()

	job := queueTestJob(models.JobStatusQueued)
	require.NoError(t, st.CreateJob(ctx, job))

	cancelled, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)
	assert.Nil(t, cancelled.QueuePosition)
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	svc, st := newTestQueueService(t)
	ctx := context.Background()

	for _, status := range []models.JobStatus{
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		job := queueTestJob(status)
		require.NoError(t, st.CreateJob(ctx, job))

		got, err := svc.Cancel(ctx, job.ID)
		require.NoError(t, err, "cancelling a %s job must not error", status)
		assert.Equal(t, status, got.Status, "terminal status must be left unchanged")

		stored, err := st.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, status, stored.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc, _ := newTestQueueService(t)

	_, err := svc.Cancel(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
