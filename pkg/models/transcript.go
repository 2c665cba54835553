package models

import "time"

// Transcript is the one-to-one transcription result for a job.
type Transcript struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`

	Language     string  `json:"language"`
	Duration     float64 `json:"duration"`
	WordCount    int     `json:"word_count"`
	SpeakerCount int     `json:"speaker_count"`

	FullText string `json:"full_text"`

	CreatedAt time.Time `json:"created_at"`

	Segments []*Segment `json:"segments,omitempty"`
}

// Segment is one transcript segment with timing. Segments are dense-indexed
// from 0 and ordered by index; End >= Start >= 0.
type Segment struct {
	ID           string `json:"id"`
	TranscriptID string `json:"transcript_id"`

	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`

	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Words []Word `json:"words,omitempty"`
}

// Word is a word-level timing within a segment.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Speakers returns the distinct speaker labels assigned to segments,
// in first-appearance order.
func (t *Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range t.Segments {
		if seg.Speaker == "" || seen[seg.Speaker] {
			continue
		}
		seen[seg.Speaker] = true
		out = append(out, seg.Speaker)
	}
	return out
}
