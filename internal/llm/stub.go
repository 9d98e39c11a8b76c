package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// StubEmbedder produces deterministic unit vectors derived from the text
// content alone. It is the explicit Stub capability mode for development
// and tests; identical text always embeds to the identical vector.
type StubEmbedder struct{}

// NewStubEmbedder creates the deterministic stub embedder.
func NewStubEmbedder() *StubEmbedder {
	return &StubEmbedder{}
}

// Embed implements Embedder. The vector is generated from a SHA-256 seed
// of the text expanded through a splitmix64 stream and normalized to unit
// length, so nearby texts do not correlate but determinism holds.
func (e *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(text))
	state := binary.LittleEndian.Uint64(sum[:8])

	vec := make([]float32, EmbeddingDimensions)
	var norm float64
	for i := range vec {
		state = splitmix64(state)
		// Map to (-1, 1)
		vec[i] = float32(int64(state)) / float32(math.MaxInt64)
		norm += float64(vec[i]) * float64(vec[i])
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

// splitmix64 advances the deterministic vector stream.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

var _ Embedder = (*StubEmbedder)(nil)
