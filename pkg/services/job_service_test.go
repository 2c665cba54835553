package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/models"
)

// Validation runs before any store access, so these paths are exercised
// without a database.

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		UploadDir:       dir + "/uploads",
		OutputDir:       dir + "/outputs",
		ModelDir:        dir + "/models",
		DefaultLanguage: "auto",
		MaxUploadSizeMB: 500,
	}
}

func TestCreateJobValidation(t *testing.T) {
	svc := NewJobService(nil, nil, testConfig(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.CreateJobRequest
		field string
	}{
		{"missing filename", models.CreateJobRequest{}, "filename"},
		{"unsupported extension", models.CreateJobRequest{Filename: "notes.txt"}, "filename"},
		{"priority too low", models.CreateJobRequest{Filename: "a.wav", Priority: -1}, "priority"},
		{"priority too high", models.CreateJobRequest{Filename: "a.wav", Priority: 11}, "priority"},
		{"bad output format", models.CreateJobRequest{
			Filename:      "a.wav",
			OutputFormats: []models.OutputFormat{"docx"},
		}, "output_formats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateJob(ctx, tt.req, "/tmp/a.wav", 100, nil)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestTranscriptRejectsUnknownFormat(t *testing.T) {
	svc := NewJobService(nil, nil, testConfig(t))

	_, err := svc.Transcript(context.Background(), "some-job", "docx")
	assert.True(t, IsValidationError(err))
}

func TestRemapSpeakersRequiresMapping(t *testing.T) {
	svc := NewJobService(nil, nil, testConfig(t))

	_, err := svc.RemapSpeakers(context.Background(), "some-job", nil)
	assert.True(t, IsValidationError(err))
}

func TestQueueReorderValidation(t *testing.T) {
	svc := NewQueueService(nil, nil, 2)
	ctx := context.Background()

	err := svc.Reorder(ctx, nil)
	assert.True(t, IsValidationError(err), "empty list must be rejected")

	err = svc.Reorder(ctx, []string{"a", "b", "a"})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "duplicate")
}

func TestSetPriorityValidatesRange(t *testing.T) {
	svc := NewQueueService(nil, nil, 2)
	ctx := context.Background()

	for _, p := range []int{0, -1, 11} {
		_, err := svc.SetPriority(ctx, "some-job", p)
		assert.True(t, IsValidationError(err), "priority %d", p)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("priority", "must be between 1 and 10")
	assert.EqualError(t, err, "validation error on field 'priority': must be between 1 and 10")
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(ErrNotFound))
}
