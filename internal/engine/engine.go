// Package engine is the public API surface (C10): it owns the single
// reader-preferring lock guarding every in-memory mutation, the
// cross-process advisory file lock guarding the single-writer invariant
// across restarts, and wires discovery, ingest, query, and watch into one
// opened handle. Callers (the CLI, a future embedder) never touch
// internal/vectorindex or internal/lexical directly.
package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/kestrel-dev/mdvdb/internal/cluster"
	"github.com/kestrel-dev/mdvdb/internal/discover"
	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/engineconfig"
	"github.com/kestrel-dev/mdvdb/internal/errs"
	"github.com/kestrel-dev/mdvdb/internal/ingest"
	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
	"github.com/kestrel-dev/mdvdb/internal/lexical"
	"github.com/kestrel-dev/mdvdb/internal/linkgraph"
	"github.com/kestrel-dev/mdvdb/internal/query"
	"github.com/kestrel-dev/mdvdb/internal/schema"
	"github.com/kestrel-dev/mdvdb/internal/vectorindex"
)

// Engine is one opened project: its vector index, lexical index, embedding
// provider, and the lock serializing every mutation against them.
type Engine struct {
	projectRoot string
	cfg         engineconfig.Config

	mu  sync.RWMutex
	vi  *vectorindex.Index
	li  *lexical.Index
	prv embed.Provider
	dsc *discover.Discoverer

	procLock *flock.Flock
}

// Open acquires the project's single-writer process lock, opens (or
// creates) the vector and lexical indexes, and runs the open-time
// consistency guard (§4.6). cfg is merged against engineconfig.Defaults()
// for any field the caller left zero.
func Open(cfg engineconfig.Config, provider embed.Provider) (*Engine, error) {
	return OpenProject(".", cfg, provider)
}

// OpenProject is Open for a project root other than the current directory.
func OpenProject(projectRoot string, cfg engineconfig.Config, provider embed.Provider) (*Engine, error) {
	cfg = cfg.WithDefaults()

	indexDir := filepath.Join(projectRoot, cfg.Paths.IndexDir)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "create index directory", err)
	}

	procLock := flock.New(filepath.Join(indexDir, ".lock"))
	locked, err := procLock.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "acquire project lock", err)
	}
	if !locked {
		return nil, errs.New(errs.LockTimeout, "another process already holds the write lock for this project").WithRetryable(true)
	}

	vi, err := openOrCreateVectorIndex(filepath.Join(projectRoot, cfg.Paths.IndexFilePath()), providerConfig(cfg, provider))
	if err != nil {
		_ = procLock.Unlock()
		return nil, err
	}

	li, err := lexical.Open(filepath.Join(projectRoot, cfg.Paths.FTSPath()))
	if err != nil {
		_ = vi.Close()
		_ = procLock.Unlock()
		return nil, err
	}

	dsc, err := discover.NewDiscoverer()
	if err != nil {
		_ = li.Close()
		_ = vi.Close()
		_ = procLock.Unlock()
		return nil, err
	}

	e := &Engine{
		projectRoot: projectRoot,
		cfg:         cfg,
		vi:          vi,
		li:          li,
		prv:         provider,
		dsc:         dsc,
		procLock:    procLock,
	}

	e.repairLexicalConsistency()

	return e, nil
}

func providerConfig(cfg engineconfig.Config, provider embed.Provider) embed.Config {
	return embed.Config{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: provider.Dimensions(),
	}
}

// openOrCreateVectorIndex opens the index file if one already exists,
// otherwise creates a fresh empty index bound to want. An existing index
// whose provider fingerprint doesn't match want is a caller-visible error
// (§4.5 Open Question: "surface the mismatch to callers; do not guess").
func openOrCreateVectorIndex(path string, want embed.Config) (*vectorindex.Index, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return vectorindex.New(want), nil
		}
		return nil, errs.Wrap(errs.IO, "stat vector index file", err)
	}

	vi, err := vectorindex.Open(path)
	if err != nil {
		return nil, err
	}
	if !vi.ProviderConfig().Compatible(want) {
		_ = vi.Close()
		return nil, errs.New(errs.Config, fmt.Sprintf(
			"index was built with provider %q model %q dims %d, but the configured provider is %q model %q dims %d",
			vi.ProviderConfig().Provider, vi.ProviderConfig().Model, vi.ProviderConfig().Dimensions,
			want.Provider, want.Model, want.Dimensions,
		))
	}
	return vi, nil
}

// repairLexicalConsistency implements §4.6's open-time guard: if the vector
// index has chunks but the lexical index is empty, something crashed
// between the two commits on a prior run. Rather than leave lexical search
// silently returning nothing, the engine replays every archived chunk's
// content straight from the vector index's records.
func (e *Engine) repairLexicalConsistency() {
	if e.vi.Len() == 0 {
		return
	}
	count, err := e.li.DocCount()
	if err != nil {
		slog.Warn("engine: failed to check lexical doc count", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		return
	}

	slog.Warn("engine: lexical index empty but vector index is not; replaying chunks from the vector index")
	batch := e.li.NewBatch()
	for path, f := range e.vi.Files() {
		for _, id := range f.ChunkIDs {
			rec, ok := e.vi.Get(id)
			if !ok {
				continue
			}
			if err := batch.UpsertChunk(id, path, rec.Content, rec.Breadcrumb); err != nil {
				slog.Warn("engine: failed to replay chunk into lexical index", slog.String("chunk_id", id), slog.String("error", err.Error()))
			}
		}
	}
	if err := batch.Commit(); err != nil {
		slog.Warn("engine: failed to commit replayed lexical batch", slog.String("error", err.Error()))
	}
}

// Close releases the lexical and vector indexes and the process lock. A
// caller must call Close exactly once per successful Open/OpenProject.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.li.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.vi.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.procLock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) deps() ingest.Deps {
	return ingest.Deps{
		ProjectRoot: e.projectRoot,
		VI:          e.vi,
		LI:          e.li,
		Provider:    e.prv,
		Mu:          &e.mu,
		Discoverer:  e.dsc,
	}
}

// Ingest runs a full-tree or single-file ingest pass (§4.7/§4.9).
func (e *Engine) Ingest(ctx context.Context, opts ingest.Options) (ingest.Result, error) {
	opts.Config = mergeConfig(e.cfg, opts.Config)
	return ingest.Run(ctx, e.deps(), opts)
}

// RemoveFile deletes one file's chunks and metadata from both indexes,
// driven by the watcher's delete-event path (§4.9).
func (e *Engine) RemoveFile(ctx context.Context, relPath string) error {
	indexPath := filepath.Join(e.projectRoot, e.cfg.Paths.IndexFilePath())
	return ingest.RemoveFile(ctx, e.deps(), indexPath, relPath)
}

func mergeConfig(base, override engineconfig.Config) engineconfig.Config {
	if override.Paths.SourceDirs == nil && override.Paths.IndexDir == "" {
		return base
	}
	return override.WithDefaults()
}

// Result is one enriched, ranked search hit: query.Result plus the
// file-level metadata a caller needs to render or filter on without a
// second lookup (§4.8).
type Result struct {
	ChunkID        string
	SourcePath     string
	PathComponents []string
	Breadcrumb     []string
	Content        string
	StartLine      int
	EndLine        int
	Score          float64
	Frontmatter    jsonvalue.Value
	ModifiedAtUnix int64
	SizeBytes      int64
}

// Search runs semantic/lexical/hybrid retrieval (§4.8) and enriches every
// hit with its source file's metadata.
func (e *Engine) Search(ctx context.Context, queryText string, opts query.Options) ([]Result, error) {
	// Zero-valued options fall back to the engine's configured search defaults.
	if opts.Mode == "" {
		opts.Mode = query.Mode(e.cfg.Search.Mode)
	}
	if opts.Limit <= 0 {
		opts.Limit = e.cfg.Search.Limit
	}
	if opts.MinScore <= 0 {
		opts.MinScore = e.cfg.Search.MinScore
	}
	if opts.RRFK <= 0 {
		opts.RRFK = e.cfg.Search.RRFK
	}
	if opts.BM25NormK <= 0 {
		opts.BM25NormK = e.cfg.Search.BM25NormK
	}
	if opts.HalfLifeDays <= 0 && e.cfg.Search.DecayEnabled {
		opts.HalfLifeDays = e.cfg.Search.DecayHalfLifeDays
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	raw, err := query.Run(ctx, e.vi, e.li, e.prv, queryText, opts, e.neighborLookup())
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		f, _ := e.vi.GetFile(r.SourcePath)
		fm, _ := jsonvalue.Parse([]byte(f.FrontmatterJSON))
		out = append(out, Result{
			ChunkID:        r.ChunkID,
			SourcePath:     r.SourcePath,
			PathComponents: splitPathComponents(r.SourcePath),
			Breadcrumb:     r.Breadcrumb,
			Content:        r.Content,
			StartLine:      r.StartLine,
			EndLine:        r.EndLine,
			Score:          r.Score,
			Frontmatter:    fm,
			ModifiedAtUnix: f.ModTime,
			SizeBytes:      f.Size,
		})
	}
	return out, nil
}

func splitPathComponents(relPath string) []string {
	return strings.Split(filepath.ToSlash(relPath), "/")
}

func decodeAux(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// neighborLookup adapts the persisted link graph slot into the
// query.NeighborLookup the search's link-boost pass needs (§4.8,
// §4.11). A chunk's neighbors are its source file's link-graph neighbors,
// mapped back to every chunk belonging to those neighboring files.
func (e *Engine) neighborLookup() query.NeighborLookup {
	data, ok := e.vi.Aux("linkgraph")
	if !ok {
		return nil
	}
	var g linkgraph.Graph
	if err := decodeAux(data, &g); err != nil {
		slog.Warn("engine: failed to decode link graph slot", slog.String("error", err.Error()))
		return nil
	}

	return func(chunkID string) []string {
		rec, ok := e.vi.Get(chunkID)
		if !ok {
			return nil
		}
		var out []string
		for _, neighborPath := range g.Neighbors(rec.SourcePath) {
			if f, ok := e.vi.GetFile(neighborPath); ok {
				out = append(out, f.ChunkIDs...)
			}
		}
		return out
	}
}

// ClusterState returns the engine's current cluster-state slot, if
// clustering is enabled and at least one ingest has populated it.
func (e *Engine) ClusterState() (cluster.State, bool) {
	data, ok := e.vi.Aux("cluster")
	if !ok {
		return cluster.State{}, false
	}
	var s cluster.State
	if err := decodeAux(data, &s); err != nil {
		slog.Warn("engine: failed to decode cluster slot", slog.String("error", err.Error()))
		return cluster.State{}, false
	}
	return s, true
}

// Schema returns the engine's current inferred frontmatter schema, if at
// least one ingest has populated it.
func (e *Engine) Schema() (schema.Schema, bool) {
	data, ok := e.vi.Aux("schema")
	if !ok {
		return schema.Schema{}, false
	}
	var s schema.Schema
	if err := decodeAux(data, &s); err != nil {
		slog.Warn("engine: failed to decode schema slot", slog.String("error", err.Error()))
		return schema.Schema{}, false
	}
	return s, true
}

// LinkGraph returns the engine's current link graph slot, if at least one
// ingest has populated it.
func (e *Engine) LinkGraph() (linkgraph.Graph, bool) {
	data, ok := e.vi.Aux("linkgraph")
	if !ok {
		return linkgraph.Graph{}, false
	}
	var g linkgraph.Graph
	if err := decodeAux(data, &g); err != nil {
		slog.Warn("engine: failed to decode link graph slot", slog.String("error", err.Error()))
		return linkgraph.Graph{}, false
	}
	return g, true
}

// ProjectRoot returns the root path this engine was opened against.
func (e *Engine) ProjectRoot() string { return e.projectRoot }

// Config returns the engine's effective configuration.
func (e *Engine) Config() engineconfig.Config { return e.cfg }
