// Package llm provides text embedding capabilities for semantic memory.
// The embedding backend is an explicit capability mode chosen at startup:
// either the GenAI API or a deterministic stub. There is no silent
// fallback between the two.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// EmbeddingDimensions is the vector width of the semantic memory schema.
// Model output is padded or truncated to this width.
const EmbeddingDimensions = 1536

// Embedder provides text embedding capability.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder generates embeddings with the Google GenAI embedding model.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates an embedder backed by the GenAI API.
func NewGenAIEmbedder(ctx context.Context, apiKey string) (*GenAIEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{client: client, model: "text-embedding-004"}, nil
}

// Embed generates an embedding for the given text, fitted to
// EmbeddingDimensions.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return fitDimensions(resp.Embeddings[0].Values), nil
}

// fitDimensions pads with zeros or truncates so the vector matches the
// semantic memory schema width.
func fitDimensions(v []float32) []float32 {
	if len(v) == EmbeddingDimensions {
		return v
	}
	out := make([]float32, EmbeddingDimensions)
	copy(out, v)
	return out
}

var _ Embedder = (*GenAIEmbedder)(nil)
