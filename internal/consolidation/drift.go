// Package consolidation implements the nightly dream event: episodic
// review, behavioral drift detection, and morning note generation.
package consolidation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/onlyreason/judgment/internal/memory"
)

// DriftThreshold is the escalation rate above which drift is flagged.
const DriftThreshold = 0.30

// DriftWindow is the trailing telemetry window for drift detection.
const DriftWindow = 7 * 24 * time.Hour

// DriftReport holds the drift metrics for one agent over the trailing window.
type DriftReport struct {
	AgentID         string  `json:"agent_id"`
	DriftScore      float64 `json:"drift_score"`
	DriftDetected   bool    `json:"drift_detected"`
	EscalationRate  float64 `json:"escalation_rate"`
	EscalationCount int     `json:"escalation_count"`
	TaskCount       int     `json:"task_count"`
	Details         string  `json:"details"`
}

// DriftDetector computes behavioral drift from telemetry counts.
type DriftDetector struct {
	store memory.Store
	now   func() time.Time
}

// NewDriftDetector creates a drift detector over the given store.
func NewDriftDetector(store memory.Store) *DriftDetector {
	return &DriftDetector{store: store, now: time.Now}
}

// DetectDrift compares the agent's recent escalation behavior against the
// drift threshold. An agent with no completed tasks in the window has an
// escalation rate of 0.0 and no drift; the zero-activity case never fails.
func (d *DriftDetector) DetectDrift(ctx context.Context, agentID string) (DriftReport, error) {
	since := d.now().UTC().Add(-DriftWindow)

	escalations, err := d.store.CountTelemetryEvents(ctx, agentID, "escalation", since)
	if err != nil {
		return DriftReport{}, fmt.Errorf("failed to count escalations: %w", err)
	}

	tasks, err := d.store.CountTelemetryEvents(ctx, agentID, "task_completed", since)
	if err != nil {
		return DriftReport{}, fmt.Errorf("failed to count completed tasks: %w", err)
	}

	var escalationRate float64
	if tasks > 0 {
		escalationRate = float64(escalations) / float64(tasks)
	}

	driftDetected := escalationRate > DriftThreshold
	driftScore := math.Min(1.0, escalationRate/DriftThreshold)

	status := "within normal range"
	if driftDetected {
		status = "DRIFT DETECTED"
	}

	return DriftReport{
		AgentID:         agentID,
		DriftScore:      round3(driftScore),
		DriftDetected:   driftDetected,
		EscalationRate:  round3(escalationRate),
		EscalationCount: escalations,
		TaskCount:       tasks,
		Details:         fmt.Sprintf("Escalation rate: %.1f%% (%s)", escalationRate*100, status),
	}, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
