package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onlyreason/judgment/internal/judgment"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func testProfile() judgment.Profile {
	return judgment.Profile{
		Patterns: []judgment.Pattern{
			{ID: "pat_1", Name: "Refund sniff test", Description: "check order history", Domains: []string{"support"}, Confidence: 0.5},
		},
		Constraints: []judgment.Constraint{
			{ID: "con_1", Description: "PII", Rule: "Never share customer PII", Category: "security", Critical: true},
		},
		Triggers: []judgment.Trigger{
			{ID: "trg_1", Description: "Escalate legal threats", Action: "escalate", Priority: 9},
		},
		ConfidenceMap:        judgment.DefaultConfidenceMap(),
		SourceTranscriptHash: "feedface00000001",
	}
}

// TestAppendAndLoadProfile tests the core memory round trip: append a
// version, read it back by latest and by hash.
func TestAppendAndLoadProfile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	profile := testProfile()
	hash, err := store.AppendProfileVersion(ctx, "agent-1", "expert-1", profile, "")
	if err != nil {
		t.Fatalf("AppendProfileVersion failed: %v", err)
	}
	if len(hash) != 16 {
		t.Errorf("expected 16-character version hash, got %q", hash)
	}

	rec, err := store.LoadLatestProfile(ctx, "agent-1")
	if err != nil {
		t.Fatalf("LoadLatestProfile failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.VersionHash != hash {
		t.Errorf("hash mismatch: stored %q, loaded %q", hash, rec.VersionHash)
	}
	if rec.AgentID != "agent-1" || rec.ExpertID != "expert-1" {
		t.Errorf("unexpected identifiers: %+v", rec)
	}
	if len(rec.Profile.Patterns) != 1 || rec.Profile.Patterns[0].ID != "pat_1" {
		t.Errorf("patterns not round-tripped: %+v", rec.Profile.Patterns)
	}
	if len(rec.Profile.Constraints) != 1 || !rec.Profile.Constraints[0].Critical {
		t.Errorf("constraints not round-tripped: %+v", rec.Profile.Constraints)
	}
	if rec.Profile.SourceTranscriptHash != "feedface00000001" {
		t.Errorf("source hash not round-tripped: %q", rec.Profile.SourceTranscriptHash)
	}
	if !rec.LockedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected locked_at == created_at, got %v vs %v", rec.LockedAt, rec.CreatedAt)
	}

	byHash, err := store.LoadProfileVersion(ctx, "agent-1", hash)
	if err != nil {
		t.Fatalf("LoadProfileVersion failed: %v", err)
	}
	if byHash == nil || byHash.ID != rec.ID {
		t.Errorf("expected same record by hash, got %+v", byHash)
	}
}

// TestLoadLatestProfile_Untrained tests that an agent with no versions
// yields (nil, nil), not an error.
func TestLoadLatestProfile_Untrained(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.LoadLatestProfile(ctx, "agent-never-trained")
	if err != nil {
		t.Fatalf("expected no error for untrained agent, got %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}

	version, err := store.LatestVersion(ctx, "agent-never-trained")
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if version != "" {
		t.Errorf("expected empty version, got %q", version)
	}
}

// TestAppendProfileVersion_Conflict tests the optimistic concurrency
// check: a stale expected version fails with ErrVersionConflict and writes
// nothing.
func TestAppendProfileVersion_Conflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.AppendProfileVersion(ctx, "agent-1", "expert-1", testProfile(), "")
	if err != nil {
		t.Fatalf("AppendProfileVersion failed: %v", err)
	}

	// A second writer that merged against the empty state must fail.
	stale := testProfile()
	stale.Patterns[0].Confidence = 0.9
	if _, err := store.AppendProfileVersion(ctx, "agent-1", "expert-1", stale, ""); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Retrying with the observed latest succeeds.
	second, err := store.AppendProfileVersion(ctx, "agent-1", "expert-1", stale, first)
	if err != nil {
		t.Fatalf("retry with current version failed: %v", err)
	}

	latest, err := store.LatestVersion(ctx, "agent-1")
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest != second {
		t.Errorf("expected latest %q, got %q", second, latest)
	}

	// The first version is still readable: the log is append-only.
	old, err := store.LoadProfileVersion(ctx, "agent-1", first)
	if err != nil || old == nil {
		t.Fatalf("expected first version preserved, got %+v err=%v", old, err)
	}
}

// TestAppendProfileVersion_DeterministicHash tests that identical content
// written for different agents yields the same content address.
func TestAppendProfileVersion_DeterministicHash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	h1, err := store.AppendProfileVersion(ctx, "agent-1", "expert-1", testProfile(), "")
	if err != nil {
		t.Fatalf("AppendProfileVersion failed: %v", err)
	}
	h2, err := store.AppendProfileVersion(ctx, "agent-2", "expert-1", testProfile(), "")
	if err != nil {
		t.Fatalf("AppendProfileVersion failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected content-addressed hashes to match, got %q vs %q", h1, h2)
	}
}

// TestLoadProfile_CorruptColumns tests that a stored profile that fails to
// parse surfaces as an error for the whole load, never a partial record.
func TestLoadProfile_CorruptColumns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := func(agentID, judgmentJSON, confidenceMap string) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO core_memory (
				id, agent_id, expert_id, training_version,
				judgment_json, hard_constraints, escalation_triggers,
				confidence_map, created_at, locked_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, agentID+"-rec", agentID, "expert-1", "cafe000011112222",
			judgmentJSON, `[]`, `[]`, confidenceMap,
			"2026-08-30T09:00:00.000000000Z", "2026-08-30T09:00:00.000000000Z")
		if err != nil {
			t.Fatalf("failed to seed core memory: %v", err)
		}
	}

	seed("agent-bad-judgment", `{not json`, `[]`)
	seed("agent-bad-confidence", `{"patterns":[]}`, `{broken`)

	for _, agentID := range []string{"agent-bad-judgment", "agent-bad-confidence"} {
		rec, err := store.LoadLatestProfile(ctx, agentID)
		if err == nil {
			t.Errorf("%s: expected error for corrupt profile, got record %+v", agentID, rec)
			continue
		}
		if rec != nil {
			t.Errorf("%s: expected no partial record, got %+v", agentID, rec)
		}
		if !strings.Contains(err.Error(), "corrupt profile") {
			t.Errorf("%s: expected corrupt profile error, got %v", agentID, err)
		}
	}
}

// TestLoadEpisodicEvents tests time filtering and newest-first ordering.
func TestLoadEpisodicEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	seed := func(sessionID string, age time.Duration, sentiment float64) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO episodic_memory (agent_id, session_id, summary, outcome, sentiment, relevance_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, "agent-1", sessionID, "summary "+sessionID, "resolved", sentiment, 0.5,
			now.Add(-age).Format(time.RFC3339Nano))
		if err != nil {
			t.Fatalf("failed to seed episodic row: %v", err)
		}
	}

	seed("s-old", 48*time.Hour, 0.1)
	seed("s-morning", 10*time.Hour, 0.8)
	seed("s-noon", 5*time.Hour, -0.5)
	seed("s-recent", 1*time.Hour, 0.0)

	events, err := store.LoadEpisodicEvents(ctx, "agent-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("LoadEpisodicEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events within window, got %d", len(events))
	}
	if events[0].SessionID != "s-recent" || events[1].SessionID != "s-noon" || events[2].SessionID != "s-morning" {
		t.Errorf("expected newest-first order, got %q, %q, %q",
			events[0].SessionID, events[1].SessionID, events[2].SessionID)
	}
	if events[1].Sentiment != -0.5 {
		t.Errorf("sentiment not round-tripped: %v", events[1].Sentiment)
	}
}

// TestLoadEpisodicEvents_DefaultTimestampFormat tests that rows whose
// created_at was filled by the schema's CURRENT_TIMESTAMP default (SQLite's
// space-separated "2006-01-02 15:04:05" rendering) still fall inside the
// window and order correctly alongside rows written in the service format.
func TestLoadEpisodicEvents_DefaultTimestampFormat(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	seedDefaultFormat := func(sessionID string, age time.Duration) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO episodic_memory (agent_id, session_id, summary, outcome, sentiment, relevance_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, "agent-1", sessionID, "summary", "resolved", 0.0, 0.5,
			now.Add(-age).Format("2006-01-02 15:04:05"))
		if err != nil {
			t.Fatalf("failed to seed episodic row: %v", err)
		}
	}

	seedDefaultFormat("s-default", 4*time.Hour)
	seedDefaultFormat("s-stale", 48*time.Hour)
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO episodic_memory (agent_id, session_id, summary, outcome, sentiment, relevance_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, "agent-1", "s-service", "summary", "resolved", 0.0, 0.5,
		now.Add(-2*time.Hour).Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("failed to seed episodic row: %v", err)
	}

	events, err := store.LoadEpisodicEvents(ctx, "agent-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("LoadEpisodicEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events within window, got %d", len(events))
	}
	if events[0].SessionID != "s-service" || events[1].SessionID != "s-default" {
		t.Errorf("expected newest-first order across formats, got %q, %q",
			events[0].SessionID, events[1].SessionID)
	}
}

// TestCountTelemetryEvents_DefaultTimestampFormat tests window counting of
// rows stamped by the CURRENT_TIMESTAMP default.
func TestCountTelemetryEvents_DefaultTimestampFormat(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	seed := func(age time.Duration) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO telemetry_events (agent_id, event_type, created_at)
			VALUES (?, ?, ?)
		`, "agent-1", "escalation", now.Add(-age).Format("2006-01-02 15:04:05"))
		if err != nil {
			t.Fatalf("failed to seed telemetry row: %v", err)
		}
	}

	seed(4 * time.Hour)
	seed(6 * time.Hour)
	seed(10 * 24 * time.Hour)

	count, err := store.CountTelemetryEvents(ctx, "agent-1", "escalation", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("CountTelemetryEvents failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 escalations within window, got %d", count)
	}
}

// TestCountTelemetryEvents tests type and time filtering of the counters.
func TestCountTelemetryEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	seed := func(eventType string, age time.Duration) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO telemetry_events (agent_id, event_type, created_at)
			VALUES (?, ?, ?)
		`, "agent-1", eventType, now.Add(-age).Format(time.RFC3339Nano))
		if err != nil {
			t.Fatalf("failed to seed telemetry row: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		seed("escalation", time.Duration(i+1)*time.Hour)
	}
	for i := 0; i < 10; i++ {
		seed("task_completed", time.Duration(i+1)*time.Hour)
	}
	seed("escalation", 10*24*time.Hour) // outside a 7-day window

	escalations, err := store.CountTelemetryEvents(ctx, "agent-1", "escalation", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("CountTelemetryEvents failed: %v", err)
	}
	if escalations != 4 {
		t.Errorf("expected 4 escalations, got %d", escalations)
	}

	tasks, err := store.CountTelemetryEvents(ctx, "agent-1", "task_completed", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("CountTelemetryEvents failed: %v", err)
	}
	if tasks != 10 {
		t.Errorf("expected 10 tasks, got %d", tasks)
	}
}

// TestSearchMemories tests cosine ordering and the insertion-order
// tie-break.
func TestSearchMemories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	write := func(content string, vector []float32) {
		if _, err := store.WriteMemory(ctx, "agent-1", content, vector, nil, "company"); err != nil {
			t.Fatalf("WriteMemory failed: %v", err)
		}
	}

	write("orthogonal", []float32{0, 1, 0})
	write("exact", []float32{1, 0, 0})
	write("close", []float32{0.9, 0.1, 0})
	write("tie-a", []float32{0, 0, 1})
	write("tie-b", []float32{0, 0, 1})

	hits, err := store.SearchMemories(ctx, "agent-1", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(hits) != 5 {
		t.Fatalf("expected 5 hits, got %d", len(hits))
	}
	if hits[0].Content != "exact" || hits[1].Content != "close" {
		t.Errorf("expected similarity ordering, got %q then %q", hits[0].Content, hits[1].Content)
	}
	// Both tie vectors score identically; insertion order decides.
	if hits[2].Content != "tie-a" && hits[3].Content != "tie-a" {
		t.Errorf("tie vectors missing from middle, got %q, %q", hits[2].Content, hits[3].Content)
	}
	for i, hit := range hits {
		if i > 0 && hit.Similarity > hits[i-1].Similarity {
			t.Errorf("hits not in descending similarity at %d", i)
		}
	}

	limited, err := store.SearchMemories(ctx, "agent-1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit respected, got %d hits", len(limited))
	}
}

// TestSearchMemories_DimensionMismatch tests that rows with a different
// embedding dimensionality are skipped rather than mis-scored.
func TestSearchMemories_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.WriteMemory(ctx, "agent-1", "short", []float32{1, 0}, nil, "company"); err != nil {
		t.Fatalf("WriteMemory failed: %v", err)
	}
	if _, err := store.WriteMemory(ctx, "agent-1", "matching", []float32{1, 0, 0}, nil, "company"); err != nil {
		t.Fatalf("WriteMemory failed: %v", err)
	}

	hits, err := store.SearchMemories(ctx, "agent-1", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "matching" {
		t.Errorf("expected only the dimension-matched row, got %+v", hits)
	}
}

// TestWriteMemory_Metadata tests metadata round-tripping through the JSON
// column.
func TestWriteMemory_Metadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	meta := map[string]interface{}{
		"type":      "training_transcript",
		"expert_id": "expert-1",
	}
	if _, err := store.WriteMemory(ctx, "agent-1", "transcript text", []float32{1, 0, 0}, meta, "expert"); err != nil {
		t.Fatalf("WriteMemory failed: %v", err)
	}

	hits, err := store.SearchMemories(ctx, "agent-1", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Metadata["type"] != "training_transcript" || hits[0].Metadata["expert_id"] != "expert-1" {
		t.Errorf("metadata not round-tripped: %+v", hits[0].Metadata)
	}
}

// TestLoadOrgEntities tests company scoping of the knowledge graph rows.
func TestLoadOrgEntities(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := func(companyID, entityType, data string) {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO org_knowledge_graph (company_id, entity_type, entity_data)
			VALUES (?, ?, ?)
		`, companyID, entityType, data)
		if err != nil {
			t.Fatalf("failed to seed org row: %v", err)
		}
	}

	seed("co-1", "person", `{"name":"Dana","role":"CTO"}`)
	seed("co-1", "policy", `{"name":"refund-policy"}`)
	seed("co-2", "person", `{"name":"Riley"}`)

	entities, err := store.LoadOrgEntities(ctx, "co-1")
	if err != nil {
		t.Fatalf("LoadOrgEntities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities for co-1, got %d", len(entities))
	}
	if entities[0].EntityType != "person" {
		t.Errorf("expected insertion order, got %+v", entities)
	}
}

// TestVectorRoundTrip tests the little-endian float32 blob encoding.
func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.14159, 0}

	decoded := decodeVector(encodeVector(original))
	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("value %d mismatch: %v vs %v", i, decoded[i], original[i])
		}
	}

	if decodeVector(nil) != nil {
		t.Error("expected nil for empty blob")
	}
	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for misaligned blob")
	}
}
