// Package retrieval assembles the expert judgment portion of a task
// envelope: the agent's trained profile, relevant episodic history from
// semantic memory, and the company's org context.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/onlyreason/judgment/internal/judgment"
	"github.com/onlyreason/judgment/internal/llm"
	"github.com/onlyreason/judgment/internal/memory"
)

// historyLimit caps how many episodic memories are attached to an envelope.
const historyLimit = 5

// summaryLimit caps the rune length of each history summary.
const summaryLimit = 200

// UntrainedVersion is the version label used for agents with no stored profile.
const UntrainedVersion = "untrained"

// ExpertJudgment is the judgment half of an envelope, shaped for the
// runtime's TaskEnvelope contract.
type ExpertJudgment struct {
	ExpertID           string                     `json:"expertId"`
	Version            string                     `json:"version"`
	Patterns           []judgment.Pattern         `json:"patterns"`
	EscalationTriggers []judgment.Trigger         `json:"escalationTriggers"`
	HardConstraints    []judgment.Constraint      `json:"hardConstraints"`
	ConfidenceMap      []judgment.ConfidenceRange `json:"confidenceMap"`
}

// Decision is an active org decision from the knowledge graph.
type Decision struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Status       string   `json:"status"`
	Stakeholders []string `json:"stakeholders"`
	Deadline     *string  `json:"deadline"`
}

// Person is a key person from the knowledge graph.
type Person struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Role              string  `json:"role"`
	Relevance         string  `json:"relevance"`
	ContactPreference *string `json:"contactPreference"`
}

// OrgContext is the company half of an envelope.
type OrgContext struct {
	Goal            string                   `json:"goal"`
	ActiveDecisions []Decision               `json:"activeDecisions"`
	KeyPeople       []Person                 `json:"keyPeople"`
	BudgetRemaining float64                  `json:"budgetRemaining"`
	Constraints     []string                 `json:"constraints"`
	History         []judgment.EpisodicEvent `json:"history"`
}

// Envelope is the assembled judgment + context pair returned to the runtime.
type Envelope struct {
	ExpertJudgment ExpertJudgment `json:"expert_judgment"`
	OrgContext     OrgContext     `json:"org_context"`
}

// EnvelopeBuilder builds envelopes from the store and embedder handles.
type EnvelopeBuilder struct {
	store    memory.Store
	embedder llm.Embedder
}

// NewEnvelopeBuilder creates an envelope builder.
func NewEnvelopeBuilder(store memory.Store, embedder llm.Embedder) *EnvelopeBuilder {
	return &EnvelopeBuilder{store: store, embedder: embedder}
}

// Build assembles the envelope for one agent and task. An untrained agent
// (no stored profile) gets the default three-range confidence map and
// empty pattern, constraint, and trigger sets; this is an expected state,
// not an error.
func (b *EnvelopeBuilder) Build(ctx context.Context, agentID, taskSpec, companyID string) (Envelope, error) {
	rec, err := b.store.LoadLatestProfile(ctx, agentID)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to load profile: %w", err)
	}

	var ej ExpertJudgment
	if rec == nil {
		ej = ExpertJudgment{
			Version:            UntrainedVersion,
			Patterns:           []judgment.Pattern{},
			EscalationTriggers: []judgment.Trigger{},
			HardConstraints:    []judgment.Constraint{},
			ConfidenceMap:      judgment.DefaultConfidenceMap(),
		}
	} else {
		// Profile lists stored as JSON null decode to nil slices; the
		// envelope always serializes them as [].
		ej = ExpertJudgment{
			ExpertID:           rec.ExpertID,
			Version:            rec.VersionHash,
			Patterns:           orEmpty(rec.Profile.Patterns),
			EscalationTriggers: orEmpty(rec.Profile.Triggers),
			HardConstraints:    orEmpty(rec.Profile.Constraints),
			ConfidenceMap:      orEmpty(rec.Profile.ConfidenceMap),
		}
	}

	history, err := b.relevantHistory(ctx, agentID, taskSpec)
	if err != nil {
		return Envelope{}, err
	}

	orgCtx := b.buildOrgContext(ctx, companyID)
	orgCtx.History = history

	return Envelope{ExpertJudgment: ej, OrgContext: orgCtx}, nil
}

// relevantHistory retrieves episodic history via semantic similarity search
// on the task spec.
func (b *EnvelopeBuilder) relevantHistory(ctx context.Context, agentID, taskSpec string) ([]judgment.EpisodicEvent, error) {
	vector, err := b.embedder.Embed(ctx, taskSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to embed task spec: %w", err)
	}

	hits, err := b.store.SearchMemories(ctx, agentID, vector, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	history := make([]judgment.EpisodicEvent, 0, len(hits))
	for _, hit := range hits {
		history = append(history, judgment.EpisodicEvent{
			SessionID:      metaString(hit.Metadata, "session_id"),
			Summary:        truncateRunes(hit.Content, summaryLimit),
			Timestamp:      metaString(hit.Metadata, "created_at"),
			RelevanceScore: hit.Similarity,
		})
	}

	return history, nil
}

// buildOrgContext assembles org context from the knowledge graph. A lookup
// failure degrades to the empty default context; this is the documented
// fallback for the excluded org collaborator, not an error path.
func (b *EnvelopeBuilder) buildOrgContext(ctx context.Context, companyID string) OrgContext {
	entities, err := b.store.LoadOrgEntities(ctx, companyID)
	if err != nil {
		log.Printf("retrieval: failed to query org graph: %v", err)
		return emptyOrgContext()
	}
	if len(entities) == 0 {
		return emptyOrgContext()
	}

	orgCtx := emptyOrgContext()
	for _, ent := range entities {
		switch ent.EntityType {
		case "decision":
			var d Decision
			if err := decodeEntity(ent.EntityData, &d); err != nil {
				log.Printf("retrieval: skipping malformed decision entity: %v", err)
				continue
			}
			if d.Status == "" {
				d.Status = "proposed"
			}
			if d.Stakeholders == nil {
				d.Stakeholders = []string{}
			}
			orgCtx.ActiveDecisions = append(orgCtx.ActiveDecisions, d)
		case "person":
			var p Person
			if err := decodeEntity(ent.EntityData, &p); err != nil {
				log.Printf("retrieval: skipping malformed person entity: %v", err)
				continue
			}
			if p.Name == "" {
				p.Name = "Unknown"
			}
			orgCtx.KeyPeople = append(orgCtx.KeyPeople, p)
		case "project":
			var proj struct {
				Goal            string   `json:"goal"`
				Constraints     []string `json:"constraints"`
				BudgetRemaining float64  `json:"budgetRemaining"`
			}
			if err := decodeEntity(ent.EntityData, &proj); err != nil {
				log.Printf("retrieval: skipping malformed project entity: %v", err)
				continue
			}
			if proj.Goal != "" {
				orgCtx.Goal = proj.Goal
			}
			if proj.Constraints != nil {
				orgCtx.Constraints = proj.Constraints
			}
			if proj.BudgetRemaining != 0 {
				orgCtx.BudgetRemaining = proj.BudgetRemaining
			}
		}
	}

	return orgCtx
}

func emptyOrgContext() OrgContext {
	return OrgContext{
		ActiveDecisions: []Decision{},
		KeyPeople:       []Person{},
		Constraints:     []string{},
		History:         []judgment.EpisodicEvent{},
	}
}

func decodeEntity(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
