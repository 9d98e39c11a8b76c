package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/onlyreason/judgment/internal/judgment"
)

// SQLiteStore implements Store using SQLite. Embeddings are stored as
// little-endian float32 blobs and similarity search runs in application
// memory using cosine similarity, which is suitable for smaller datasets
// (< 10K records). Postgres with pgvector is the production backend.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteTimeFormat is the fixed-width timestamp written to TEXT columns.
// Unlike RFC3339Nano it never trims trailing fractional zeros, so stored
// values sort lexicographically in time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLiteStore creates a new SQLiteStore connected to the given database path.
// The path should be a file path (e.g., "./data.db") or ":memory:" for an
// in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Enable WAL mode and foreign keys for better performance and data integrity
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the necessary tables if they don't exist.
// This should be called after creating a new SQLiteStore.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		-- Core Memory: append-only judgment profile versions
		CREATE TABLE IF NOT EXISTS core_memory (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			expert_id TEXT NOT NULL,
			training_version TEXT NOT NULL,
			judgment_json TEXT NOT NULL,
			hard_constraints TEXT NOT NULL,
			escalation_triggers TEXT NOT NULL,
			confidence_map TEXT NOT NULL,
			created_at TEXT NOT NULL,
			locked_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_core_memory_agent ON core_memory(agent_id, created_at);

		-- Episodic Memory: per-session activity records
		CREATE TABLE IF NOT EXISTS episodic_memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			session_id TEXT,
			summary TEXT,
			outcome TEXT,
			sentiment REAL DEFAULT 0,
			relevance_score REAL DEFAULT 0,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_episodic_agent ON episodic_memory(agent_id, created_at);

		-- Telemetry: per-event counters used by drift detection
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_telemetry_agent ON telemetry_events(agent_id, event_type, created_at);

		-- Semantic Memory: transcripts and corrections with embeddings
		CREATE TABLE IF NOT EXISTS semantic_memory (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			metadata TEXT,
			owner TEXT DEFAULT 'company',
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_semantic_agent ON semantic_memory(agent_id);

		-- Org knowledge graph entities
		CREATE TABLE IF NOT EXISTS org_knowledge_graph (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_data TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_org_company ON org_knowledge_graph(company_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// LoadLatestProfile returns the newest core memory record for the agent,
// or (nil, nil) when the agent has never been trained.
func (s *SQLiteStore) LoadLatestProfile(ctx context.Context, agentID string) (*judgment.VersionRecord, error) {
	query := `
		SELECT id, agent_id, expert_id, training_version,
		       judgment_json, hard_constraints, escalation_triggers,
		       confidence_map, created_at, locked_at
		FROM core_memory
		WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	return s.loadProfileRow(ctx, query, agentID)
}

// LoadProfileVersion returns the record with the given version hash, or
// (nil, nil) when no such version exists for the agent.
func (s *SQLiteStore) LoadProfileVersion(ctx context.Context, agentID, versionHash string) (*judgment.VersionRecord, error) {
	query := `
		SELECT id, agent_id, expert_id, training_version,
		       judgment_json, hard_constraints, escalation_triggers,
		       confidence_map, created_at, locked_at
		FROM core_memory
		WHERE agent_id = ? AND training_version = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	return s.loadProfileRow(ctx, query, agentID, versionHash)
}

func (s *SQLiteStore) loadProfileRow(ctx context.Context, query string, args ...interface{}) (*judgment.VersionRecord, error) {
	var (
		rec            judgment.VersionRecord
		judgmentRaw    []byte
		constraintsRaw []byte
		triggersRaw    []byte
		confidenceRaw  []byte
		createdAtStr   string
		lockedAtStr    string
	)

	row := s.db.QueryRowContext(ctx, query, args...)
	err := row.Scan(
		&rec.ID,
		&rec.AgentID,
		&rec.ExpertID,
		&rec.VersionHash,
		&judgmentRaw,
		&constraintsRaw,
		&triggersRaw,
		&confidenceRaw,
		&createdAtStr,
		&lockedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load core memory: %w", err)
	}

	profile, err := decodeProfileColumns(judgmentRaw, constraintsRaw, triggersRaw, confidenceRaw)
	if err != nil {
		return nil, err
	}
	rec.Profile = profile
	rec.CreatedAt, _ = parseTimestamp(createdAtStr)
	rec.LockedAt, _ = parseTimestamp(lockedAtStr)

	return &rec, nil
}

// AppendProfileVersion writes a new immutable core memory record and
// returns its content hash. The optimistic concurrency check and the insert
// run inside one transaction.
func (s *SQLiteStore) AppendProfileVersion(ctx context.Context, agentID, expertID string, profile judgment.Profile, expectVersion string) (string, error) {
	versionHash, err := judgment.VersionHash(profile)
	if err != nil {
		return "", fmt.Errorf("failed to hash profile: %w", err)
	}

	judgmentRaw, constraintsRaw, triggersRaw, confidenceRaw, err := encodeProfileColumns(profile)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest string
	err = tx.QueryRowContext(ctx, `
		SELECT training_version FROM core_memory
		WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, agentID).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to check latest version: %w", err)
	}
	if latest != expectVersion {
		return "", ErrVersionConflict
	}

	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO core_memory (
			id, agent_id, expert_id, training_version,
			judgment_json, hard_constraints, escalation_triggers,
			confidence_map, created_at, locked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), agentID, expertID, versionHash,
		judgmentRaw, constraintsRaw, triggersRaw, confidenceRaw, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to write core memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit core memory write: %w", err)
	}

	return versionHash, nil
}

// LatestVersion returns the newest version hash for the agent, or "" when
// the agent has never been trained.
func (s *SQLiteStore) LatestVersion(ctx context.Context, agentID string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `
		SELECT training_version FROM core_memory
		WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, agentID).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest version: %w", err)
	}
	return version, nil
}

// LoadEpisodicEvents returns the agent's episodic events since the given
// time, newest first. The episodic and telemetry tables default created_at
// to CURRENT_TIMESTAMP, which SQLite renders space-separated, so window
// comparisons normalize both sides through datetime() instead of comparing
// the raw TEXT.
func (s *SQLiteStore) LoadEpisodicEvents(ctx context.Context, agentID string, since time.Time) ([]judgment.EpisodicEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, summary, outcome, sentiment, relevance_score, created_at
		FROM episodic_memory
		WHERE agent_id = ? AND datetime(created_at) >= datetime(?)
		ORDER BY datetime(created_at) DESC, rowid DESC
	`, agentID, since.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query episodic memory: %w", err)
	}
	defer rows.Close()

	var events []judgment.EpisodicEvent
	for rows.Next() {
		var (
			ev           judgment.EpisodicEvent
			createdAtStr string
		)
		if err := rows.Scan(&ev.SessionID, &ev.Summary, &ev.Outcome, &ev.Sentiment, &ev.RelevanceScore, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan episodic event: %w", err)
		}
		if t, err := parseTimestamp(createdAtStr); err == nil {
			ev.Timestamp = t.UTC().Format(time.RFC3339)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episodic events: %w", err)
	}

	return events, nil
}

// CountTelemetryEvents counts telemetry events of one type since the given time.
func (s *SQLiteStore) CountTelemetryEvents(ctx context.Context, agentID, eventType string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM telemetry_events
		WHERE agent_id = ? AND event_type = ? AND datetime(created_at) >= datetime(?)
	`, agentID, eventType, since.UTC().Format(sqliteTimeFormat)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count telemetry events: %w", err)
	}
	return count, nil
}

// memoryHitWithOrder is an internal type for sorting hits by similarity.
type memoryHitWithOrder struct {
	MemoryHit
	order int64
}

// SearchMemories finds semantic memories similar to the query vector.
// All embeddings for the agent are loaded and scored in application memory.
// Results are ordered by similarity (most similar first); equal scores
// tie-break on insertion order.
func (s *SQLiteStore) SearchMemories(ctx context.Context, agentID string, queryVector []float32, limit int) ([]MemoryHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, id, content, embedding, metadata
		FROM semantic_memory
		WHERE agent_id = ? AND embedding IS NOT NULL
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query semantic memory: %w", err)
	}
	defer rows.Close()

	var results []memoryHitWithOrder
	for rows.Next() {
		var (
			hit           memoryHitWithOrder
			embeddingBlob []byte
			metaRaw       []byte
		)
		if err := rows.Scan(&hit.order, &hit.ID, &hit.Content, &embeddingBlob, &metaRaw); err != nil {
			return nil, fmt.Errorf("failed to scan semantic memory: %w", err)
		}

		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode memory metadata: %w", err)
			}
		}

		storedVector := decodeVector(embeddingBlob)
		if len(storedVector) > 0 && len(storedVector) == len(queryVector) {
			hit.Similarity = float64(cosineSimilarity(queryVector, storedVector))
			results = append(results, hit)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating semantic memory: %w", err)
	}

	// Sort by similarity (highest first), insertion order breaks ties
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].order < results[j].order
	})

	topK := min(limit, len(results))
	hits := make([]MemoryHit, topK)
	for i := range topK {
		hits[i] = results[i].MemoryHit
	}

	return hits, nil
}

// WriteMemory stores a semantic memory entry with its embedding.
func (s *SQLiteStore) WriteMemory(ctx context.Context, agentID, content string, vector []float32, metadata map[string]interface{}, owner string) (string, error) {
	memoryID := uuid.New().String()

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaRaw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_memory (id, agent_id, content, embedding, metadata, owner)
		VALUES (?, ?, ?, ?, ?, ?)
	`, memoryID, agentID, content, encodeVector(vector), metaRaw, owner)
	if err != nil {
		return "", fmt.Errorf("failed to write semantic memory: %w", err)
	}

	return memoryID, nil
}

// LoadOrgEntities returns the org knowledge graph rows for a company.
func (s *SQLiteStore) LoadOrgEntities(ctx context.Context, companyID string) ([]OrgEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_data
		FROM org_knowledge_graph
		WHERE company_id = ?
		ORDER BY id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query org knowledge graph: %w", err)
	}
	defer rows.Close()

	var entities []OrgEntity
	for rows.Next() {
		var ent OrgEntity
		if err := rows.Scan(&ent.EntityType, &ent.EntityData); err != nil {
			return nil, fmt.Errorf("failed to scan org entity: %w", err)
		}
		entities = append(entities, ent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating org entities: %w", err)
	}

	return entities, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle; tests use it to seed rows.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// encodeVector converts a float32 slice to a byte slice for storage.
// Each float32 is encoded as 4 bytes in little-endian format.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a byte slice back to a float32 slice.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// The result is in range [-1, 1]. For normalized embedding vectors this is
// equivalent to dot product.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// parseTimestamp parses a SQLite timestamp string to time.Time.
// SQLite stores timestamps as TEXT in ISO8601/RFC3339 format.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
