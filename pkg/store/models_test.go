package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/models"
)

func testModel(t models.ModelType, engine models.ModelEngine, upstreamID string) *models.Model {
	return &models.Model{
		ID:             uuid.NewString(),
		Name:           upstreamID,
		ModelType:      t,
		Engine:         engine,
		Source:         models.SourceRegistry,
		UpstreamID:     upstreamID,
		Info:           models.ModelInfo{SizeMB: 466, Languages: []string{"multilingual"}},
		DownloadStatus: models.DownloadAbsent,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestModelRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	require.NoError(t, st.CreateModel(ctx, m))

	got, err := st.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, models.EngineFasterWhisper, got.Engine)
	assert.Equal(t, 466, got.Info.SizeMB)
	assert.Equal(t, []string{"multilingual"}, got.Info.Languages)
	assert.Equal(t, models.DownloadAbsent, got.DownloadStatus)
	assert.Nil(t, got.LastUsedAt)
}

func TestCreateModelDuplicateUpstream(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateModel(ctx, testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")))

	err := st.CreateModel(ctx, testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small"))
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same upstream id under a different engine is a distinct registration.
	assert.NoError(t, st.CreateModel(ctx, testModel(models.ModelTypeSTT, models.EngineWhisperX, "small")))
}

func TestSetDefaultModelSwapsFlag(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	first.IsDefault = true
	second := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "large-v3")
	tts := testModel(models.ModelTypeTTS, models.EnginePiper, "en_US-lessac-medium")
	tts.IsDefault = true
	for _, m := range []*models.Model{first, second, tts} {
		require.NoError(t, st.CreateModel(ctx, m))
	}

	updated, err := st.SetDefaultModel(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)

	// The old default of the same type lost the flag.
	got, err := st.GetModel(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)

	// Defaults are per type; the TTS default is untouched.
	def, err := st.GetDefaultModel(ctx, models.ModelTypeTTS)
	require.NoError(t, err)
	assert.Equal(t, tts.ID, def.ID)

	def, err = st.GetDefaultModel(ctx, models.ModelTypeSTT)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)
}

func TestGetDefaultModelNotConfigured(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetDefaultModel(context.Background(), models.ModelTypeDiarization)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListModelsFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stt := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	tts := testModel(models.ModelTypeTTS, models.EnginePiper, "en_US-lessac-medium")
	for _, m := range []*models.Model{stt, tts} {
		require.NoError(t, st.CreateModel(ctx, m))
	}

	out, err := st.ListModels(ctx, models.ModelFilters{ModelType: models.ModelTypeTTS})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tts.ID, out[0].ID)

	out, err = st.ListModels(ctx, models.ModelFilters{Engine: models.EngineFasterWhisper})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stt.ID, out[0].ID)

	out, err = st.ListModels(ctx, models.ModelFilters{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestUpdateModelPersistsDownloadState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	require.NoError(t, st.CreateModel(ctx, m))

	updated, err := st.UpdateModel(ctx, m.ID, func(mm *models.Model) error {
		mm.DownloadStatus = models.DownloadPresent
		mm.DownloadProgress = 100
		mm.LocalPath = "/models/faster-whisper/small"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadPresent, updated.DownloadStatus)

	got, err := st.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "/models/faster-whisper/small", got.LocalPath)
	assert.InDelta(t, 100, got.DownloadProgress, 1e-9)
}

func TestTouchModel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	require.NoError(t, st.CreateModel(ctx, m))
	require.NoError(t, st.TouchModel(ctx, m.ID))

	got, err := st.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestDeleteModel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	require.NoError(t, st.CreateModel(ctx, m))
	require.NoError(t, st.DeleteModel(ctx, m.ID))

	_, err := st.GetModel(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteModel(ctx, m.ID), ErrNotFound)
}
