// Package embed turns chunk text into vectors. Providers are pluggable: a
// deterministic mock for tests and offline runs, and an HTTP provider that
// speaks either the OpenAI or the Ollama embeddings wire shape.
package embed

import "context"

// Provider generates vector embeddings for batches of text. Implementations
// must be safe for concurrent use: the batch orchestrator calls EmbedBatch
// from multiple goroutines at once.
type Provider interface {
	// EmbedBatch returns one vector per input text, in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed length of every vector this provider returns.
	Dimensions() int

	// Name identifies the provider and model, e.g. "openai:text-embedding-3-small".
	Name() string
}

// Config is a provider's compatibility fingerprint, persisted alongside the
// index. Re-opening an index with a different Config is a caller-visible
// mismatch (§4.5 Open Question): the engine surfaces it rather than
// silently re-embedding or silently accepting a dimension mismatch.
type Config struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// Compatible reports whether two provider configs describe the same vector
// space. Vectors from incompatible configs cannot share an HNSW graph.
func (c Config) Compatible(other Config) bool {
	return c.Provider == other.Provider && c.Model == other.Model && c.Dimensions == other.Dimensions
}
