// Package judgment defines the expert judgment data model and the
// consolidation engine that merges newly extracted judgment fragments
// into an agent's versioned profile.
package judgment

import "time"

// Pattern is a domain-specific decision pattern the expert recognizes.
type Pattern struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	ResponseGuidance string   `json:"responseGuidance"`
	Domains          []string `json:"domains"`
	Confidence       float64  `json:"confidence"`
}

// Constraint is a hard rule the agent must never violate.
type Constraint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Rule        string `json:"rule"`
	Category    string `json:"category"` // security | compliance | brand | operational | legal
	Critical    bool   `json:"critical"`
}

// Trigger describes a situation in which the agent must stop and involve a human.
type Trigger struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Patterns    []string `json:"patterns"`
	Action      string   `json:"action"` // escalate | pause | abort
	Priority    int      `json:"priority"`
}

// ConfidenceRange maps a confidence interval [Min, Max) to a recommended action.
// Ranges are advisory and are not required to partition [0,1] exactly.
type ConfidenceRange struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Action      string  `json:"action"` // act | slow_down | escalate
	Description string  `json:"description"`
}

// Profile is an agent's trained judgment identity: patterns, hard
// constraints, escalation triggers, and confidence calibration.
// Entry ids are unique within each list and insertion order is preserved
// for stable serialization.
type Profile struct {
	Patterns             []Pattern         `json:"patterns"`
	Constraints          []Constraint      `json:"constraints"`
	Triggers             []Trigger         `json:"triggers"`
	ConfidenceMap        []ConfidenceRange `json:"confidenceMap"`
	SourceTranscriptHash string            `json:"sourceTranscriptHash,omitempty"`
}

// Fragment is the draft judgment extracted from a single training
// transcript, not yet merged into a profile. ConfidenceMap may be nil
// when the session did not touch confidence calibration.
type Fragment struct {
	Patterns          []Pattern
	Constraints       []Constraint
	Triggers          []Trigger
	ConfidenceMap     []ConfidenceRange
	SourceContentHash string
}

// VersionRecord is one immutable, content-addressed snapshot of a profile.
// LockedAt always equals CreatedAt: a version is sealed the moment it is
// written and mutations always produce a new record.
type VersionRecord struct {
	ID          string
	AgentID     string
	ExpertID    string
	VersionHash string
	Profile     Profile
	CreatedAt   time.Time
	LockedAt    time.Time
}

// EpisodicEvent is a single day's activity record, owned by the
// episodic/telemetry store and read-only here.
type EpisodicEvent struct {
	SessionID      string  `json:"sessionId"`
	Summary        string  `json:"summary"`
	Outcome        string  `json:"outcome"`
	Timestamp      string  `json:"timestamp"`
	Sentiment      float64 `json:"sentiment"`      // [-1, 1]
	RelevanceScore float64 `json:"relevanceScore"` // [0, 1]
}

// ContradictionFlag marks a pattern whose guidance would trigger an action
// a constraint forbids. Flags are advisory and surfaced for human review;
// they are never applied automatically.
type ContradictionFlag struct {
	PatternID    string `json:"patternId"`
	ConstraintID string `json:"constraintId"`
	Detail       string `json:"detail"`
}

// DefaultConfidenceMap returns the three-range calibration used for agents
// whose training never supplied one.
func DefaultConfidenceMap() []ConfidenceRange {
	return []ConfidenceRange{
		{Min: 0.0, Max: 0.3, Action: "escalate", Description: "Low confidence — escalate to human"},
		{Min: 0.3, Max: 0.6, Action: "slow_down", Description: "Medium confidence — proceed with extra verification"},
		{Min: 0.6, Max: 1.0, Action: "act", Description: "High confidence — act autonomously"},
	}
}

// SelectRange returns the first range whose [Min, Max) interval contains
// confidence, or nil when no range matches. A score of exactly 1.0 matches
// a range whose Max is 1.0.
func SelectRange(ranges []ConfidenceRange, confidence float64) *ConfidenceRange {
	for i := range ranges {
		r := &ranges[i]
		if confidence >= r.Min && (confidence < r.Max || (confidence == 1.0 && r.Max == 1.0)) {
			return r
		}
	}
	return nil
}
