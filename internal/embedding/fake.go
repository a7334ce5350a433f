package embedding

import (
	"context"
	"hash/fnv"
)

// FakeProvider is a deterministic, dependency-free embedding provider for
// tests: the same text always yields the same vector, and different texts
// yield different vectors with high probability.
type FakeProvider struct {
	dimension int
}

var _ Provider = (*FakeProvider)(nil)

// NewFakeProvider creates a deterministic provider with the given dimension.
func NewFakeProvider(dimension int) *FakeProvider {
	if dimension <= 0 {
		dimension = 8
	}
	return &FakeProvider{dimension: dimension}
}

func (p *FakeProvider) Name() string      { return "fake" }
func (p *FakeProvider) Dimension() int    { return p.dimension }
func (p *FakeProvider) MaxBatchSize() int { return 1000 }

// Embed returns a deterministic pseudo-embedding derived from a hash of text.
func (p *FakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (p *FakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = p.vector(text)
	}
	return results, nil
}

func (p *FakeProvider) vector(text string) []float32 {
	vec := make([]float32, p.dimension)
	h := fnv.New64a()
	seed := text
	for i := range vec {
		h.Reset()
		h.Write([]byte(seed))
		sum := h.Sum64()
		vec[i] = float32(sum%2000)/1000.0 - 1.0 // in [-1, 1)
		seed = seed + "\x00"
	}
	return vec
}
