package consolidation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/onlyreason/judgment/internal/judgment"
	"github.com/onlyreason/judgment/internal/memory"
)

// ReviewWindow is the trailing window of episodic activity reviewed by a
// nightly run.
const ReviewWindow = 24 * time.Hour

// PatternMiner extracts recurring patterns across a day's episodes.
// The reference implementation finds none; a clustering-based miner can be
// substituted without changing the consolidator.
type PatternMiner interface {
	Mine(ctx context.Context, agentID string, episodes []judgment.EpisodicEvent) (int, error)
}

// MemoryPruner archives or removes low-relevance memories. The reference
// implementation prunes nothing.
type MemoryPruner interface {
	Prune(ctx context.Context, agentID string) (int, error)
}

type noopMiner struct{}

func (noopMiner) Mine(context.Context, string, []judgment.EpisodicEvent) (int, error) {
	return 0, nil
}

type noopPruner struct{}

func (noopPruner) Prune(context.Context, string) (int, error) { return 0, nil }

// Result summarizes one nightly consolidation run.
type Result struct {
	AgentID          string `json:"agent_id"`
	EpisodesReviewed int    `json:"episodes_reviewed"`
	PatternsFound    int    `json:"patterns_found"`
	MemoriesPruned   int    `json:"memories_pruned"`
	Positive         int    `json:"positive"`
	Negative         int    `json:"negative"`
	Neutral          int    `json:"neutral"`
}

// Summary is the full output of a nightly run, surfaced to the caller.
type Summary struct {
	AgentID          string  `json:"agent_id"`
	EpisodesReviewed int     `json:"episodes_reviewed"`
	PatternsFound    int     `json:"patterns_found"`
	DriftDetected    bool    `json:"drift_detected"`
	DriftScore       float64 `json:"drift_score"`
	MemoriesPruned   int     `json:"memories_pruned"`
	MorningNote      string  `json:"morning_note"`
}

// NightlyConsolidator orchestrates the dream event for one agent:
// episodic review, drift detection, and morning note generation.
type NightlyConsolidator struct {
	store  memory.Store
	drift  *DriftDetector
	miner  PatternMiner
	pruner MemoryPruner
	now    func() time.Time
}

// NewNightlyConsolidator creates a consolidator over the given store.
// Nil miner or pruner default to no-ops.
func NewNightlyConsolidator(store memory.Store, miner PatternMiner, pruner MemoryPruner) *NightlyConsolidator {
	if miner == nil {
		miner = noopMiner{}
	}
	if pruner == nil {
		pruner = noopPruner{}
	}
	return &NightlyConsolidator{
		store:  store,
		drift:  NewDriftDetector(store),
		miner:  miner,
		pruner: pruner,
		now:    time.Now,
	}
}

// Run executes the nightly consolidation for one agent. A day with no
// episodic activity short-circuits to a quiet-day summary with every
// counter at zero; drift detection is skipped.
func (c *NightlyConsolidator) Run(ctx context.Context, agentID string) (Summary, error) {
	since := c.now().UTC().Add(-ReviewWindow)

	episodes, err := c.store.LoadEpisodicEvents(ctx, agentID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load episodic events: %w", err)
	}

	result := Result{AgentID: agentID, EpisodesReviewed: len(episodes)}

	if len(episodes) == 0 {
		log.Printf("consolidation: no recent episodes for agent %s", agentID)
		return Summary{
			AgentID:     agentID,
			MorningNote: GenerateMorningNote(agentID, result, DriftReport{}),
		}, nil
	}

	for _, ep := range episodes {
		switch {
		case ep.Sentiment > 0.5:
			result.Positive++
		case ep.Sentiment < -0.2:
			result.Negative++
		}
	}
	result.Neutral = result.EpisodesReviewed - result.Positive - result.Negative

	result.PatternsFound, err = c.miner.Mine(ctx, agentID, episodes)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to mine patterns: %w", err)
	}

	result.MemoriesPruned, err = c.pruner.Prune(ctx, agentID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to prune memories: %w", err)
	}

	drift, err := c.drift.DetectDrift(ctx, agentID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to detect drift: %w", err)
	}

	log.Printf("consolidation: reviewed %d episodes for agent %s (drift score %.3f)",
		result.EpisodesReviewed, agentID, drift.DriftScore)

	return Summary{
		AgentID:          agentID,
		EpisodesReviewed: result.EpisodesReviewed,
		PatternsFound:    result.PatternsFound,
		DriftDetected:    drift.DriftDetected,
		DriftScore:       drift.DriftScore,
		MemoriesPruned:   result.MemoriesPruned,
		MorningNote:      GenerateMorningNote(agentID, result, drift),
	}, nil
}
