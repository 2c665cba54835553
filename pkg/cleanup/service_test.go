package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/store"
)

type fakePurger struct {
	purged []store.PurgedJob
	err    error
	calls  int
	cutoff time.Time
}

func (f *fakePurger) PurgeTerminalJobsBefore(_ context.Context, cutoff time.Time) ([]store.PurgedJob, error) {
	f.calls++
	f.cutoff = cutoff
	return f.purged, f.err
}

func testCleanupConfig(t *testing.T, retentionDays int) *config.Config {
	t.Helper()
	return &config.Config{
		UploadDir:        t.TempDir(),
		OutputDir:        t.TempDir(),
		JobRetentionDays: retentionDays,
		CleanupInterval:  time.Hour,
	}
}

func TestSweepRemovesPurgedJobFiles(t *testing.T) {
	cfg := testCleanupConfig(t, 7)

	upload := filepath.Join(cfg.UploadDir, "job-1_interview.mp3")
	require.NoError(t, os.WriteFile(upload, []byte("audio"), 0o644))
	outDir := cfg.JobOutputDir("job-1")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "transcript.srt"), []byte("1\n"), 0o644))

	purger := &fakePurger{purged: []store.PurgedJob{{ID: "job-1", OriginalPath: upload}}}
	svc := NewService(cfg, purger)

	svc.sweep(context.Background())

	assert.Equal(t, 1, purger.calls)
	assert.NoFileExists(t, upload)
	assert.NoDirExists(t, outDir)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), purger.cutoff, time.Minute)
}

func TestSweepToleratesMissingFiles(t *testing.T) {
	cfg := testCleanupConfig(t, 7)
	purger := &fakePurger{purged: []store.PurgedJob{
		{ID: "job-gone", OriginalPath: filepath.Join(cfg.UploadDir, "missing.wav")},
	}}

	NewService(cfg, purger).sweep(context.Background())
	assert.Equal(t, 1, purger.calls)
}

func TestSweepLeavesFilesOnPurgeError(t *testing.T) {
	cfg := testCleanupConfig(t, 7)
	upload := filepath.Join(cfg.UploadDir, "keep.wav")
	require.NoError(t, os.WriteFile(upload, []byte("audio"), 0o644))

	purger := &fakePurger{err: assert.AnError}
	NewService(cfg, purger).sweep(context.Background())

	assert.FileExists(t, upload)
}

func TestStartIsNoOpWhenRetentionDisabled(t *testing.T) {
	cfg := testCleanupConfig(t, 0)
	purger := &fakePurger{}
	svc := NewService(cfg, purger)

	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, 0, purger.calls)
}

func TestStartStopRunsInitialSweep(t *testing.T) {
	cfg := testCleanupConfig(t, 30)
	purger := &fakePurger{}
	svc := NewService(cfg, purger)

	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, 1, purger.calls, "one sweep runs immediately on start")
}
