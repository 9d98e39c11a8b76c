package training

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RecordCorrection stores an approval-gate correction as a semantic memory
// entry so it can be retrieved during the next training session. The
// correction is not merged into the profile here; incorporation happens at
// the next training version.
func (h *Handler) RecordCorrection(ctx context.Context, agentID, taskID, content, correctionType, createdAt string) error {
	if err := validateTranscript(content); err != nil {
		return err
	}
	if correctionType == "" {
		correctionType = "approval_gate"
	}
	if createdAt == "" {
		createdAt = h.now().UTC().Format(time.RFC3339)
	}

	text := "CORRECTION: " + content

	vector, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed correction: %w", err)
	}

	_, err = h.store.WriteMemory(ctx, agentID, text, vector, map[string]interface{}{
		"type":            "correction",
		"correction_type": correctionType,
		"task_id":         taskID,
		"created_at":      createdAt,
	}, "company")
	if err != nil {
		return fmt.Errorf("failed to store correction: %w", err)
	}

	log.Printf("training: correction recorded for agent %s, task %s", agentID, taskID)
	return nil
}
