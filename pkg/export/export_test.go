package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/models"
)

func sampleSegments() []*models.Segment {
	return []*models.Segment{
		{Index: 0, Start: 0, End: 2.5, Text: " Hello world. "},
		{Index: 1, Start: 2.5, End: 5.0, Text: "Second segment.", Speaker: "SPEAKER_01"},
	}
}

func TestFormatSRTTime(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.5, "01:01:01,500"},
		{-3, "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatSRTTime(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestFormatVTTTime(t *testing.T) {
	assert.Equal(t, "00:00:01.500", FormatVTTTime(1.5))
	assert.Equal(t, "01:01:01.500", FormatVTTTime(3661.5))
}

func TestTimeFormattingFloorsSubMillisecond(t *testing.T) {
	// 1.0015s must floor to 001 ms, not round to 002.
	assert.Equal(t, "00:00:01,001", FormatSRTTime(1.0015))
}

func TestParseTimecode(t *testing.T) {
	tests := []struct {
		tc       string
		expected float64
	}{
		{"00:00:01,500", 1.5},
		{"00:00:01.500", 1.5},
		{"01:01:01,250", 3661.25},
	}
	for _, tt := range tests {
		got, err := ParseTimecode(tt.tc)
		require.NoError(t, err, tt.tc)
		assert.InDelta(t, tt.expected, got, 1e-9, tt.tc)
	}

	_, err := ParseTimecode("garbage")
	assert.Error(t, err)
}

func TestGenerateSRT(t *testing.T) {
	got := GenerateSRT(sampleSegments())

	expected := "1\n00:00:00,000 --> 00:00:02,500\nHello world.\n\n" +
		"2\n00:00:02,500 --> 00:00:05,000\nSPEAKER_01: Second segment.\n\n"
	assert.Equal(t, expected, got)
}

func TestGenerateVTT(t *testing.T) {
	got := GenerateVTT(sampleSegments())

	expected := "WEBVTT\n" +
		"\n00:00:00.000 --> 00:00:02.500\nHello world.\n" +
		"\n00:00:02.500 --> 00:00:05.000\nSPEAKER_01: Second segment.\n"
	assert.Equal(t, expected, got)
}

func TestGenerateTXT(t *testing.T) {
	got := GenerateTXT(sampleSegments())
	assert.Equal(t, "Hello world.\nSPEAKER_01: Second segment.", got)
}

func TestGenerateJSON(t *testing.T) {
	tr := &models.Transcript{
		Language:     "en",
		Duration:     5.0,
		WordCount:    4,
		SpeakerCount: 1,
		Segments:     sampleSegments(),
	}

	data, err := GenerateJSON(tr)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "en", doc["language"])
	assert.Equal(t, 5.0, doc["duration"])
	assert.Equal(t, []any{"SPEAKER_01"}, doc["speakers"])
	assert.Len(t, doc["segments"], 2)
}

func TestRenderUnsupportedFormat(t *testing.T) {
	_, err := Render(&models.Transcript{}, models.OutputFormat("docx"))
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	tr := &models.Transcript{Language: "en", Segments: sampleSegments()}

	paths, err := WriteAll(tr, dir, []models.OutputFormat{models.FormatJSON, models.FormatSRT})
	require.NoError(t, err)
	require.Len(t, paths, 2)

	data, err := os.ReadFile(paths[models.FormatSRT])
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:00,000 --> 00:00:02,500")

	data, err = os.ReadFile(paths[models.FormatJSON])
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}
