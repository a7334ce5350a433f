// Package embedding provides the embedding provider used to vectorize tool
// server and tool descriptions before they are added to the vector index.
package embedding

import (
	"context"
	"fmt"
)

// Provider embeds text into fixed-length vectors.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension produced by this provider.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts accepted per batch.
	MaxBatchSize() int
}

// Blend computes alpha*base + (1-alpha)*tool, elementwise. It does not
// renormalize the result. base and tool must have equal length.
func Blend(base, tool []float32, alpha float32) ([]float32, error) {
	if len(base) != len(tool) {
		return nil, fmt.Errorf("embedding dimension mismatch: base has %d, tool has %d", len(base), len(tool))
	}
	blended := make([]float32, len(base))
	for i := range base {
		blended[i] = alpha*base[i] + (1-alpha)*tool[i]
	}
	return blended, nil
}
