package memory

import (
	"context"
	"errors"
	"time"

	"github.com/onlyreason/judgment/internal/judgment"
)

// ErrVersionConflict is returned by AppendProfileVersion when the latest
// stored version no longer matches the version observed at merge time.
// The caller should re-read the latest profile and retry the merge.
var ErrVersionConflict = errors.New("profile version conflict")

// MemoryHit is one semantic search result. Results are ordered by
// descending similarity; equal similarities tie-break on insertion order.
type MemoryHit struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
}

// OrgEntity is a raw row from the org knowledge graph. EntityData is the
// JSON payload; interpretation belongs to the retrieval layer.
type OrgEntity struct {
	EntityType string
	EntityData []byte
}

// Store defines the persistence contract for the judgment service:
// the append-only core memory version log, episodic and telemetry reads,
// semantic memory with vector similarity search, and the org knowledge
// graph.
type Store interface {
	// LoadLatestProfile returns the newest version record for the agent,
	// or (nil, nil) when the agent has never been trained. The untrained
	// state is not an error; callers must handle it explicitly.
	LoadLatestProfile(ctx context.Context, agentID string) (*judgment.VersionRecord, error)

	// LoadProfileVersion returns the version record with the given content
	// hash, or (nil, nil) when no such version exists for the agent.
	LoadProfileVersion(ctx context.Context, agentID, versionHash string) (*judgment.VersionRecord, error)

	// AppendProfileVersion writes a new immutable version record and
	// returns its content hash. The write is append-only: prior records
	// are never updated or deleted. expectVersion is the latest hash the
	// caller observed when it merged (empty for an untrained agent); when
	// the stored latest differs, the write fails with ErrVersionConflict.
	AppendProfileVersion(ctx context.Context, agentID, expertID string, profile judgment.Profile, expectVersion string) (string, error)

	// LatestVersion returns the newest version hash for the agent, or ""
	// when the agent has never been trained.
	LatestVersion(ctx context.Context, agentID string) (string, error)

	// LoadEpisodicEvents returns the agent's episodic events since the
	// given time, newest first.
	LoadEpisodicEvents(ctx context.Context, agentID string, since time.Time) ([]judgment.EpisodicEvent, error)

	// CountTelemetryEvents counts telemetry events of one type since the
	// given time.
	CountTelemetryEvents(ctx context.Context, agentID, eventType string, since time.Time) (int, error)

	// SearchMemories performs a vector similarity search over the agent's
	// semantic memories and returns the top results by descending cosine
	// similarity.
	SearchMemories(ctx context.Context, agentID string, queryVector []float32, limit int) ([]MemoryHit, error)

	// WriteMemory stores a semantic memory entry with its embedding and
	// returns the generated memory id.
	WriteMemory(ctx context.Context, agentID, content string, vector []float32, metadata map[string]interface{}, owner string) (string, error)

	// LoadOrgEntities returns the org knowledge graph rows for a company.
	LoadOrgEntities(ctx context.Context, companyID string) ([]OrgEntity, error)

	// Close releases any resources held by the store.
	Close() error
}

// judgmentJSON is the shape of the core_memory judgment_json column:
// the pattern list plus the source transcript hash of the training session
// that produced the version.
type judgmentJSON struct {
	Patterns             []judgment.Pattern `json:"patterns"`
	SourceTranscriptHash string             `json:"source_transcript_hash"`
}
