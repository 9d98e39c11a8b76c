package consolidation

import (
	"strings"
	"testing"
)

// TestGenerateMorningNote_QuietDay tests the fixed quiet-day sentence.
func TestGenerateMorningNote_QuietDay(t *testing.T) {
	note := GenerateMorningNote("agent-7", Result{AgentID: "agent-7"}, DriftReport{})

	want := "Good morning. Agent agent-7 had a quiet day yesterday — no tasks were processed. Ready for today's assignments."
	if note != want {
		t.Errorf("quiet day note mismatch:\ngot  %q\nwant %q", note, want)
	}
}

// TestGenerateMorningNote_SentimentBuckets tests the parenthetical bucket
// rendering for a mixed day.
func TestGenerateMorningNote_SentimentBuckets(t *testing.T) {
	result := Result{
		AgentID:          "agent-1",
		EpisodesReviewed: 5,
		Positive:         3,
		Negative:         1,
		Neutral:          1,
	}

	note := GenerateMorningNote("agent-1", result, DriftReport{})

	if !strings.HasPrefix(note, "Good morning. Yesterday I processed 5 sessions (3 positive, 1 challenging, 1 routine).") {
		t.Errorf("unexpected note prefix: %q", note)
	}
	if !strings.HasSuffix(note, "All systems operating within trained parameters.") {
		t.Errorf("expected healthy closer, got %q", note)
	}
}

// TestGenerateMorningNote_AllRoutine tests that an all-neutral day omits
// the parenthetical entirely.
func TestGenerateMorningNote_AllRoutine(t *testing.T) {
	result := Result{
		AgentID:          "agent-1",
		EpisodesReviewed: 4,
		Neutral:          4,
	}

	note := GenerateMorningNote("agent-1", result, DriftReport{})

	if strings.Contains(note, "(") {
		t.Errorf("expected no sentiment parenthetical, got %q", note)
	}
	if !strings.Contains(note, "Yesterday I processed 4 sessions.") {
		t.Errorf("unexpected note: %q", note)
	}
}

// TestGenerateMorningNote_PartialBuckets tests bucket omission when a
// bucket is empty.
func TestGenerateMorningNote_PartialBuckets(t *testing.T) {
	result := Result{
		AgentID:          "agent-1",
		EpisodesReviewed: 3,
		Positive:         2,
		Neutral:          1,
	}

	note := GenerateMorningNote("agent-1", result, DriftReport{})

	if !strings.Contains(note, "(2 positive, 1 routine)") {
		t.Errorf("expected challenging bucket omitted, got %q", note)
	}
	if strings.Contains(note, "challenging") {
		t.Errorf("unexpected challenging bucket: %q", note)
	}
}

// TestGenerateMorningNote_DriftWarning tests the drift warning with the
// formatted score and rate.
func TestGenerateMorningNote_DriftWarning(t *testing.T) {
	result := Result{AgentID: "agent-1", EpisodesReviewed: 10, Neutral: 10}
	drift := DriftReport{
		DriftDetected:  true,
		DriftScore:     1.0,
		EscalationRate: 0.4,
	}

	note := GenerateMorningNote("agent-1", result, drift)

	if !strings.Contains(note, "⚠️ Behavioral drift detected (score: 1.00, escalation rate: 40.0%). I recommend reviewing my recent decisions.") {
		t.Errorf("unexpected drift warning: %q", note)
	}
	if strings.Contains(note, "within trained parameters") {
		t.Errorf("healthy closer must be absent on drift: %q", note)
	}
}

// TestGenerateMorningNote_PatternsFound tests the recurring-pattern sentence.
func TestGenerateMorningNote_PatternsFound(t *testing.T) {
	result := Result{AgentID: "agent-1", EpisodesReviewed: 6, Neutral: 6, PatternsFound: 2}

	note := GenerateMorningNote("agent-1", result, DriftReport{})

	if !strings.Contains(note, "I identified 2 recurring patterns worth noting.") {
		t.Errorf("expected pattern sentence, got %q", note)
	}
}

// TestGenerateMorningNote_Deterministic tests that identical inputs yield
// identical notes.
func TestGenerateMorningNote_Deterministic(t *testing.T) {
	result := Result{AgentID: "agent-1", EpisodesReviewed: 5, Positive: 3, Negative: 1, Neutral: 1}
	drift := DriftReport{DriftDetected: true, DriftScore: 0.9, EscalationRate: 0.27}

	a := GenerateMorningNote("agent-1", result, drift)
	b := GenerateMorningNote("agent-1", result, drift)
	if a != b {
		t.Errorf("note generation is not deterministic:\n%q\n%q", a, b)
	}
}
