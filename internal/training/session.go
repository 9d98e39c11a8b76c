// Package training coordinates the training ingestion pipeline: transcribe
// when the input is audio, extract a judgment fragment, consolidate it into
// the latest profile, append a new immutable version, and store the
// transcript as semantic memory.
package training

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/onlyreason/judgment/internal/extraction"
	"github.com/onlyreason/judgment/internal/judgment"
	"github.com/onlyreason/judgment/internal/llm"
	"github.com/onlyreason/judgment/internal/memory"
)

// maxWriteRetries bounds the read-merge-write loop when concurrent training
// sessions race on the same agent.
const maxWriteRetries = 3

// ErrInvalidInput marks a transcript rejected before any consolidation ran.
var ErrInvalidInput = errors.New("invalid training input")

// SessionResult reports what a processed training session produced.
type SessionResult struct {
	TrainingVersion      string                       `json:"training_version"`
	PatternsExtracted    int                          `json:"patterns_extracted"`
	ConstraintsExtracted int                          `json:"constraints_extracted"`
	ReviewRequired       []judgment.ContradictionFlag `json:"review_required"`
	Message              string                       `json:"message"`
}

// Handler runs the training session pipeline.
type Handler struct {
	store       memory.Store
	extractor   extraction.Adapter
	engine      *judgment.Engine
	embedder    llm.Embedder
	transcriber Transcriber
	now         func() time.Time
}

// NewHandler creates a training session handler.
func NewHandler(store memory.Store, extractor extraction.Adapter, engine *judgment.Engine, embedder llm.Embedder, transcriber Transcriber) *Handler {
	return &Handler{
		store:       store,
		extractor:   extractor,
		engine:      engine,
		embedder:    embedder,
		transcriber: transcriber,
		now:         time.Now,
	}
}

// ProcessSession runs the full pipeline for one training session.
// isAudio marks transcript as base64-encoded audio to transcribe first.
//
// Re-submitting a transcript identical to the one that produced the latest
// version is a detected no-op: the pipeline returns the current version
// without consolidating or writing.
func (h *Handler) ProcessSession(ctx context.Context, agentID, expertID, transcript string, isAudio bool) (SessionResult, error) {
	text := transcript
	if isAudio {
		audio, err := base64.StdEncoding.DecodeString(transcript)
		if err != nil {
			return SessionResult{}, fmt.Errorf("%w: malformed base64 audio: %v", ErrInvalidInput, err)
		}
		text, err = h.transcriber.Transcribe(ctx, audio)
		if err != nil {
			return SessionResult{}, fmt.Errorf("failed to transcribe audio: %w", err)
		}
		log.Printf("training: transcribed %d characters for agent %s", len(text), agentID)
	}

	if err := validateTranscript(text); err != nil {
		return SessionResult{}, err
	}

	draft, err := h.extractor.Extract(ctx, text)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to extract judgment: %w", err)
	}

	versionHash, flags, err := h.consolidateAndWrite(ctx, agentID, expertID, draft)
	if err != nil {
		return SessionResult{}, err
	}

	vector, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to embed transcript: %w", err)
	}

	_, err = h.store.WriteMemory(ctx, agentID, text, vector, map[string]interface{}{
		"type":             "training_transcript",
		"expert_id":        expertID,
		"session_date":     h.now().UTC().Format(time.RFC3339),
		"training_version": versionHash,
	}, "expert")
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to store transcript: %w", err)
	}

	return SessionResult{
		TrainingVersion:      versionHash,
		PatternsExtracted:    len(draft.Patterns),
		ConstraintsExtracted: len(draft.Constraints),
		ReviewRequired:       flags,
		Message: fmt.Sprintf(
			"Training session processed. Extracted %d patterns and %d constraints. Version: %s",
			len(draft.Patterns), len(draft.Constraints), versionHash,
		),
	}, nil
}

// consolidateAndWrite runs the read-merge-write loop with the optimistic
// concurrency check, retrying when another session wins the race.
func (h *Handler) consolidateAndWrite(ctx context.Context, agentID, expertID string, draft judgment.Fragment) (string, []judgment.ContradictionFlag, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		latest, err := h.store.LoadLatestProfile(ctx, agentID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load latest profile: %w", err)
		}

		var (
			existing      *judgment.Profile
			expectVersion string
		)
		if latest != nil {
			if latest.Profile.SourceTranscriptHash == draft.SourceContentHash && draft.SourceContentHash != "" {
				log.Printf("training: transcript already ingested for agent %s (version %s)", agentID, latest.VersionHash)
				return latest.VersionHash, []judgment.ContradictionFlag{}, nil
			}
			existing = &latest.Profile
			expectVersion = latest.VersionHash
		}

		result := h.engine.Consolidate(existing, draft)

		versionHash, err := h.store.AppendProfileVersion(ctx, agentID, expertID, result.Profile, expectVersion)
		if errors.Is(err, memory.ErrVersionConflict) {
			log.Printf("training: version conflict for agent %s, retrying merge", agentID)
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to append profile version: %w", err)
		}

		log.Printf("training: encoded judgment for agent %s: %d patterns, %d constraints, %d triggers (version %s)",
			agentID, len(result.Profile.Patterns), len(result.Profile.Constraints), len(result.Profile.Triggers), versionHash)
		return versionHash, result.ReviewRequired, nil
	}

	return "", nil, fmt.Errorf("failed to append profile version after %d attempts: %w", maxWriteRetries, memory.ErrVersionConflict)
}

// validateTranscript rejects malformed input before any profile mutation.
func validateTranscript(text string) error {
	if text == "" {
		return fmt.Errorf("%w: transcript is empty", ErrInvalidInput)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: transcript is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}
