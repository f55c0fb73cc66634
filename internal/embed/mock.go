package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockProvider produces deterministic, hash-based vectors with no network
// access. It exists for tests and for running the engine fully offline; its
// vectors carry no real semantic content, only stable similarity for
// identical or near-identical text.
type MockProvider struct {
	dims int
	name string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider returns a provider with the given vector width.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &MockProvider{dims: dimensions, name: "mock"}
}

func (p *MockProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *MockProvider) Dimensions() int { return p.dims }
func (p *MockProvider) Name() string    { return p.name }

func (p *MockProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		idx := hashToIndex(tok, p.dims)
		v[idx] += 1
	}
	return normalize(v)
}

func hashToIndex(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
