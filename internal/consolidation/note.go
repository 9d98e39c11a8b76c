package consolidation

import (
	"fmt"
	"strings"
)

// GenerateMorningNote synthesizes the one-paragraph morning note from a
// nightly consolidation result and the matching drift report. It is a pure
// function: identical inputs always produce the identical note.
func GenerateMorningNote(agentID string, result Result, drift DriftReport) string {
	if result.EpisodesReviewed == 0 {
		return fmt.Sprintf(
			"Good morning. Agent %s had a quiet day yesterday — no tasks were processed. Ready for today's assignments.",
			agentID,
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Good morning. Yesterday I processed %d sessions", result.EpisodesReviewed)

	if result.Positive > 0 || result.Negative > 0 {
		var buckets []string
		if result.Positive > 0 {
			buckets = append(buckets, fmt.Sprintf("%d positive", result.Positive))
		}
		if result.Negative > 0 {
			buckets = append(buckets, fmt.Sprintf("%d challenging", result.Negative))
		}
		if result.Neutral > 0 {
			buckets = append(buckets, fmt.Sprintf("%d routine", result.Neutral))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(buckets, ", "))
	}

	b.WriteString(".")

	if result.PatternsFound > 0 {
		fmt.Fprintf(&b, " I identified %d recurring patterns worth noting.", result.PatternsFound)
	}

	if drift.DriftDetected {
		fmt.Fprintf(&b,
			" ⚠️ Behavioral drift detected (score: %.2f, escalation rate: %.1f%%). I recommend reviewing my recent decisions.",
			drift.DriftScore, drift.EscalationRate*100,
		)
	} else {
		b.WriteString(" All systems operating within trained parameters.")
	}

	return b.String()
}
