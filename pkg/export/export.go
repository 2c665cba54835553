// Package export renders transcripts into the supported output formats.
package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// FormatSRTTime renders seconds as an SRT timecode (HH:MM:SS,mmm). Fields
// are floored, never rounded, so decoding yields floor-equivalent values.
func FormatSRTTime(seconds float64) string {
	h, m, s, ms := splitTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatVTTTime renders seconds as a WebVTT timecode (HH:MM:SS.mmm).
func FormatVTTTime(seconds float64) string {
	h, m, s, ms := splitTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitTime(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	h = int(seconds / 3600)
	m = int(math.Mod(seconds, 3600) / 60)
	s = int(math.Mod(seconds, 60))
	ms = int(math.Mod(seconds, 1) * 1000)
	return
}

// ParseTimecode decodes an SRT or VTT timecode back to seconds.
func ParseTimecode(tc string) (float64, error) {
	norm := strings.Replace(tc, ",", ".", 1)
	var h, m int
	var sec float64
	if _, err := fmt.Sscanf(norm, "%d:%d:%f", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid timecode %q: %w", tc, err)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}

// GenerateSRT renders segments as SubRip subtitles.
func GenerateSRT(segments []*models.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, FormatSRTTime(seg.Start), FormatSRTTime(seg.End), segmentText(seg))
	}
	return b.String()
}

// GenerateVTT renders segments as WebVTT subtitles.
func GenerateVTT(segments []*models.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n",
			FormatVTTTime(seg.Start), FormatVTTTime(seg.End), segmentText(seg))
	}
	return b.String()
}

// GenerateTXT renders segments as plain text, one segment per line.
func GenerateTXT(segments []*models.Segment) string {
	var lines []string
	for _, seg := range segments {
		lines = append(lines, segmentText(seg))
	}
	return strings.Join(lines, "\n")
}

// GenerateJSON renders the transcript as an indented JSON document.
func GenerateJSON(t *models.Transcript) ([]byte, error) {
	doc := map[string]any{
		"language":      t.Language,
		"duration":      t.Duration,
		"word_count":    t.WordCount,
		"speaker_count": t.SpeakerCount,
		"segments":      t.Segments,
	}
	if speakers := t.Speakers(); len(speakers) > 0 {
		doc["speakers"] = speakers
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Render produces the transcript in the requested format.
func Render(t *models.Transcript, format models.OutputFormat) ([]byte, error) {
	switch format {
	case models.FormatJSON:
		return GenerateJSON(t)
	case models.FormatSRT:
		return []byte(GenerateSRT(t.Segments)), nil
	case models.FormatVTT:
		return []byte(GenerateVTT(t.Segments)), nil
	case models.FormatTXT:
		return []byte(GenerateTXT(t.Segments)), nil
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}

// WriteAll writes transcript.<ext> into dir for every requested format and
// returns the written paths keyed by format.
func WriteAll(t *models.Transcript, dir string, formats []models.OutputFormat) (map[models.OutputFormat]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make(map[models.OutputFormat]string, len(formats))
	for _, format := range formats {
		data, err := Render(t, format)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, "transcript."+string(format))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s export: %w", format, err)
		}
		paths[format] = path
	}
	return paths, nil
}

// segmentText prefixes the speaker label when one is assigned.
func segmentText(seg *models.Segment) string {
	text := strings.TrimSpace(seg.Text)
	if seg.Speaker != "" {
		return seg.Speaker + ": " + text
	}
	return text
}
