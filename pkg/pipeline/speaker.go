package pipeline

import (
	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/models"
)

// AssignSpeakers labels each transcript segment with the diarization speaker
// whose turns overlap it the most in aggregate. Ties go to the
// lexicographically smaller label so assignment is deterministic. Segments
// with zero overlap get no label.
func AssignSpeakers(segments []*models.Segment, turns []engine.Turn) map[int]string {
	assigned := make(map[int]string)
	for _, seg := range segments {
		overlaps := make(map[string]float64)
		for _, turn := range turns {
			o := overlap(seg.Start, seg.End, turn.Start, turn.End)
			if o > 0 {
				overlaps[turn.Speaker] += o
			}
		}

		best := ""
		bestOverlap := 0.0
		for speaker, total := range overlaps {
			if total > bestOverlap || (total == bestOverlap && bestOverlap > 0 && speaker < best) {
				best = speaker
				bestOverlap = total
			}
		}
		if best != "" {
			assigned[seg.Index] = best
		}
	}
	return assigned
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
