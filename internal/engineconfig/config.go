// Package engineconfig is the plain configuration struct the core engine
// consumes. Parsing a project's config file into this shape is a CLI-layer
// concern (§1 Non-goals); this package only defines the shape and its
// defaults, the way the teacher's internal/config.Config does for its own
// (much larger) settings surface.
package engineconfig

import "time"

// Config is every setting §6 names as "recognized by the core."
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Watch      WatchConfig      `yaml:"watch"`
	Clustering ClusteringConfig `yaml:"clustering"`
}

// PathsConfig controls where the engine reads markdown from and where it
// keeps its own state.
type PathsConfig struct {
	// SourceDirs are project-root-relative directories walked by C1.
	SourceDirs []string `yaml:"source_dirs"`
	// IndexDir holds the vector index file; IndexDir/fts holds the
	// lexical index unless FTSDir overrides it.
	IndexDir string `yaml:"index_dir"`
	// FTSDir overrides the lexical index directory. Empty means
	// "<IndexDir>/fts".
	FTSDir string `yaml:"fts_dir"`
	// IgnorePatterns are user glob patterns layered on top of the
	// built-in set and any .gitignore files (§4.1).
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// ChunkingConfig controls C3's primary/secondary split.
type ChunkingConfig struct {
	MaxTokens     int `yaml:"chunk_max_tokens"`
	OverlapTokens int `yaml:"chunk_overlap_tokens"`
}

// EmbeddingsConfig controls C4's provider and batching.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	BaseURL    string `yaml:"base_url"`
	// APIKey is never logged (§4.4: "API credentials never appear in
	// logs").
	APIKey string `yaml:"api_key"`
}

// SearchConfig holds the defaults C8 falls back to when a query doesn't
// override them explicitly.
type SearchConfig struct {
	Limit             int     `yaml:"limit"`
	MinScore          float64 `yaml:"min_score"`
	Mode              string  `yaml:"mode"`
	RRFK              int     `yaml:"rrf_k"`
	BM25NormK         float64 `yaml:"bm25_norm_k"`
	DecayEnabled      bool    `yaml:"decay_enabled"`
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days"`
}

// WatchConfig controls C9's debounce behavior.
type WatchConfig struct {
	DebounceMS int `yaml:"watch_debounce_ms"`
}

// ClusteringConfig controls the C11 cluster-state slot.
type ClusteringConfig struct {
	Enabled            bool `yaml:"clustering_enabled"`
	RebalanceThreshold int  `yaml:"clustering_rebalance_threshold"`
}

// Defaults returns the engine's baseline configuration. Every field here
// has a documented default per §6.
func Defaults() Config {
	return Config{
		Paths: PathsConfig{
			SourceDirs: []string{"."},
			IndexDir:   ".mdvdb",
		},
		Chunking: ChunkingConfig{
			MaxTokens:     512,
			OverlapTokens: 64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "mock",
			Model:      "mock",
			Dimensions: 384,
			BatchSize:  32,
		},
		Search: SearchConfig{
			Limit:     10,
			Mode:      "hybrid",
			RRFK:      60,
			BM25NormK: 1.5,
		},
		Watch: WatchConfig{
			DebounceMS: 300,
		},
		Clustering: ClusteringConfig{
			Enabled:            false,
			RebalanceThreshold: 20,
		},
	}
}

// WithDefaults fills the zero-valued fields of c checked below from
// Defaults(), the same merge shape watch.Options.WithDefaults uses: a
// caller-supplied partial config picks up the engine's baseline for whatever
// it left unset. Embeddings.Model is not filled; an empty model stays empty.
func (c Config) WithDefaults() Config {
	d := Defaults()

	if len(c.Paths.SourceDirs) == 0 {
		c.Paths.SourceDirs = d.Paths.SourceDirs
	}
	if c.Paths.IndexDir == "" {
		c.Paths.IndexDir = d.Paths.IndexDir
	}
	if c.Chunking.MaxTokens == 0 {
		c.Chunking.MaxTokens = d.Chunking.MaxTokens
	}
	if c.Chunking.OverlapTokens == 0 {
		c.Chunking.OverlapTokens = d.Chunking.OverlapTokens
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = d.Embeddings.Provider
	}
	if c.Embeddings.Dimensions == 0 {
		c.Embeddings.Dimensions = d.Embeddings.Dimensions
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = d.Embeddings.BatchSize
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = d.Search.Limit
	}
	if c.Search.Mode == "" {
		c.Search.Mode = d.Search.Mode
	}
	if c.Search.RRFK == 0 {
		c.Search.RRFK = d.Search.RRFK
	}
	if c.Search.BM25NormK == 0 {
		c.Search.BM25NormK = d.Search.BM25NormK
	}
	if c.Watch.DebounceMS == 0 {
		c.Watch.DebounceMS = d.Watch.DebounceMS
	}
	if c.Clustering.RebalanceThreshold == 0 {
		c.Clustering.RebalanceThreshold = d.Clustering.RebalanceThreshold
	}
	return c
}

// DebounceDuration converts WatchConfig's millisecond field to a
// time.Duration for the watcher package.
func (w WatchConfig) DebounceDuration() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// FTSPath resolves the lexical index's directory, defaulting to
// "<IndexDir>/fts" per §4.6.
func (p PathsConfig) FTSPath() string {
	if p.FTSDir != "" {
		return p.FTSDir
	}
	return p.IndexDir + "/fts"
}

// IndexFilePath resolves the vector index's single file path, inside
// IndexDir, per §4.5's single-file binary format.
func (p PathsConfig) IndexFilePath() string {
	return p.IndexDir + "/index.mdvdb"
}
