package judgment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes the content-bearing fields of a profile into a
// canonical byte form: every object is re-encoded through an untyped map so
// that keys are emitted in sorted order regardless of how the profile was
// assembled. List order is preserved; it is part of the content.
func CanonicalJSON(p Profile) ([]byte, error) {
	content := struct {
		Patterns      []Pattern         `json:"patterns"`
		Constraints   []Constraint      `json:"constraints"`
		Triggers      []Trigger         `json:"triggers"`
		ConfidenceMap []ConfidenceRange `json:"confidenceMap"`
	}{
		Patterns:      p.Patterns,
		Constraints:   p.Constraints,
		Triggers:      p.Triggers,
		ConfidenceMap: p.ConfidenceMap,
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	// Round-trip through interface{} values: encoding/json writes map keys
	// in sorted order, which gives key-order independence at every level.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to canonicalize profile: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical form: %w", err)
	}

	return canonical, nil
}

// VersionHash computes the content address of a profile: SHA-256 over the
// canonical serialization, truncated to 16 hex characters. Two profiles
// with identical content always hash identically.
func VersionHash(p Profile) (string, error) {
	canonical, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}
