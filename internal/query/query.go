// Package query runs semantic, lexical, and hybrid retrieval over the
// vector and full-text indexes, then applies filtering, time decay, and
// link-graph boosting before truncating to the caller's limit.
package query

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/errs"
	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
	"github.com/kestrel-dev/mdvdb/internal/lexical"
	"github.com/kestrel-dev/mdvdb/internal/vectorindex"
)

// Mode selects which retrieval strategy produces the candidate set.
type Mode string

const (
	Semantic Mode = "semantic"
	Lexical  Mode = "lexical"
	Hybrid   Mode = "hybrid"
)

// FilterOp is a structured-filter comparison against a chunk's source
// frontmatter.
type FilterOp string

const (
	OpEqual  FilterOp = "eq"
	OpIn     FilterOp = "in"
	OpGT     FilterOp = "gt"
	OpGTE    FilterOp = "gte"
	OpLT     FilterOp = "lt"
	OpLTE    FilterOp = "lte"
	OpExists FilterOp = "exists"
)

// Filter is one AND-ed condition against a frontmatter field.
type Filter struct {
	Field string
	Op    FilterOp
	Value jsonvalue.Value
}

// Options configures a single retrieval call.
type Options struct {
	Mode Mode

	// Limit is the final number of results returned after all ranking
	// and filtering (the hard truncation point).
	Limit int

	// RRFK is the Reciprocal Rank Fusion smoothing constant (default 60).
	RRFK int

	// BM25NormK normalizes a raw BM25 score into 0..1 for Lexical mode
	// (default 1.5).
	BM25NormK float64

	Filters    []Filter
	PathPrefix string

	// HalfLifeDays, if > 0, applies exponential time decay to each
	// result's score based on its source file's modification time.
	HalfLifeDays float64
	// MinScore drops results below this score, evaluated after decay.
	MinScore float64

	// LinkBoost multiplies the score of any candidate that is a link
	// neighbor of one of the top 3 results.
	LinkBoost bool

	// Now overrides the decay reference time; zero means time.Now().
	// Exposed for deterministic tests.
	Now time.Time
}

// DefaultOptions returns the engine's baseline retrieval tuning.
func DefaultOptions() Options {
	return Options{
		Mode:      Hybrid,
		Limit:     10,
		RRFK:      60,
		BM25NormK: 1.5,
	}
}

// Result is one ranked, enriched hit.
type Result struct {
	ChunkID    string
	SourcePath string
	Breadcrumb []string
	Content    string
	StartLine  int
	EndLine    int
	Score      float64
}

// NeighborLookup returns the chunk IDs linked from a given chunk's source
// file, used for link-graph boosting. A nil lookup disables boosting even
// if Options.LinkBoost is set.
type NeighborLookup func(chunkID string) []string

// singleListCandidateFactor and hybridCandidateFactor widen the initial
// retrieval beyond Limit so filtering, decay, and link boosting have
// enough of the ranked list to work with before the final truncation:
// single-list modes fetch 3L candidates, hybrid fetches 5L per list since
// it has to survive fusion before truncation.
const (
	singleListCandidateFactor = 3
	hybridCandidateFactor     = 5
)

// Run executes a retrieval against the given indexes.
func Run(ctx context.Context, vi *vectorindex.Index, li *lexical.Index, provider embed.Provider, queryText string, opts Options, neighbors NeighborLookup) ([]Result, error) {
	if opts.RRFK <= 0 {
		opts.RRFK = 60
	}
	if opts.BM25NormK <= 0 {
		opts.BM25NormK = 1.5
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	var scored map[string]float64
	var err error

	switch opts.Mode {
	case Semantic:
		scored, err = semanticScores(ctx, vi, provider, queryText, opts.Limit*singleListCandidateFactor)
	case Lexical:
		scored, err = lexicalScores(ctx, li, queryText, opts.Limit*singleListCandidateFactor, opts.BM25NormK)
	default:
		scored, err = hybridScores(ctx, vi, li, provider, queryText, opts.Limit*hybridCandidateFactor, opts.RRFK)
	}
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for chunkID, score := range scored {
		rec, ok := vi.Get(chunkID)
		if !ok {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(rec.SourcePath, opts.PathPrefix) {
			continue
		}
		if !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		results = append(results, Result{
			ChunkID:    chunkID,
			SourcePath: rec.SourcePath,
			Breadcrumb: rec.Breadcrumb,
			Content:    rec.Content,
			StartLine:  rec.StartLine,
			EndLine:    rec.EndLine,
			Score:      score,
		})
	}

	if opts.HalfLifeDays > 0 {
		applyDecay(results, vi, opts.HalfLifeDays, opts.Now)
	}

	if opts.MinScore > 0 {
		results = filterMinScore(results, opts.MinScore)
	}

	sortByScore(results)

	if opts.LinkBoost && neighbors != nil {
		applyLinkBoost(results, neighbors)
		sortByScore(results)
	}

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func semanticScores(ctx context.Context, vi *vectorindex.Index, provider embed.Provider, queryText string, limit int) (map[string]float64, error) {
	vectors, err := provider.EmbedBatch(ctx, []string{queryText})
	if err != nil {
		return nil, errs.Wrap(errs.EmbeddingProvider, "embed query", err)
	}
	if len(vectors) == 0 {
		return nil, errs.New(errs.EmbeddingProvider, "provider returned no vector for query")
	}

	hits, err := vi.Search(vectors[0], limit)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		out[h.ChunkID] = float64(h.Score)
	}
	return out, nil
}

func lexicalScores(ctx context.Context, li *lexical.Index, queryText string, limit int, normK float64) (map[string]float64, error) {
	hits, err := li.Search(ctx, queryText, limit)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		out[h.ChunkID] = h.Score / (h.Score + normK)
	}
	return out, nil
}

// hybridScores fuses the semantic and lexical ranked lists with equal
// weight: rrf_raw(d) = sum over lists containing d of 1/(k+rank), then
// normalized by the theoretical maximum (every list ranking d first)
// num_lists/(k+1), so a perfect double-first-place hit scores exactly 1.
// The two retrieval paths run concurrently under a structured join since
// neither depends on the other's result.
func hybridScores(ctx context.Context, vi *vectorindex.Index, li *lexical.Index, provider embed.Provider, queryText string, limit, k int) (map[string]float64, error) {
	var semanticHits []vectorindex.SearchResult
	var lexicalHits []lexical.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectors, err := provider.EmbedBatch(gctx, []string{queryText})
		if err != nil {
			return errs.Wrap(errs.EmbeddingProvider, "embed query", err)
		}
		if len(vectors) == 0 {
			return errs.New(errs.EmbeddingProvider, "provider returned no vector for query")
		}
		hits, err := vi.Search(vectors[0], limit)
		if err != nil {
			return err
		}
		semanticHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := li.Search(gctx, queryText, limit)
		if err != nil {
			return err
		}
		lexicalHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	const numLists = 2
	rrfRaw := make(map[string]float64)

	for rank, h := range semanticHits {
		rrfRaw[h.ChunkID] += 1 / float64(k+rank+1)
	}
	for rank, h := range lexicalHits {
		rrfRaw[h.ChunkID] += 1 / float64(k+rank+1)
	}

	maxPossible := float64(numLists) / float64(k+1)
	out := make(map[string]float64, len(rrfRaw))
	for id, raw := range rrfRaw {
		out[id] = raw / maxPossible
	}
	return out, nil
}

func matchesFilters(meta jsonvalue.Value, filters []Filter) bool {
	for _, f := range filters {
		if !matchesFilter(meta, f) {
			return false
		}
	}
	return true
}

func matchesFilter(meta jsonvalue.Value, f Filter) bool {
	field := meta.Get(f.Field)

	switch f.Op {
	case OpExists:
		return meta.Has(f.Field)
	case OpEqual:
		return jsonvalue.Equal(field, f.Value)
	case OpIn:
		items, ok := f.Value.AsList()
		if !ok {
			return false
		}
		// A list-typed field matches when any of its elements is in the set.
		candidates := []jsonvalue.Value{field}
		if list, isList := field.AsList(); isList {
			candidates = list
		}
		for _, item := range items {
			for _, c := range candidates {
				if jsonvalue.Equal(c, item) {
					return true
				}
			}
		}
		return false
	case OpGT, OpGTE, OpLT, OpLTE:
		return matchesRange(field, f)
	}
	return false
}

// matchesRange compares field against f.Value numerically when both sides
// parse as numbers, falling back to lexicographic string comparison
// otherwise (§4.8: "parse field as numeric when both bounds are numeric,
// otherwise as lexicographic string").
func matchesRange(field jsonvalue.Value, f Filter) bool {
	if fv, ok1 := field.AsNumber(); ok1 {
		if tv, ok2 := f.Value.AsNumber(); ok2 {
			return compareOrdered(fv, tv, f.Op)
		}
	}
	fs, ok1 := field.AsString()
	ts, ok2 := f.Value.AsString()
	if !ok1 || !ok2 {
		return false
	}
	return compareOrdered(fs, ts, f.Op)
}

func compareOrdered[T float64 | string](fv, tv T, op FilterOp) bool {
	switch op {
	case OpGT:
		return fv > tv
	case OpGTE:
		return fv >= tv
	case OpLT:
		return fv < tv
	case OpLTE:
		return fv <= tv
	}
	return false
}

func applyDecay(results []Result, vi *vectorindex.Index, halfLifeDays float64, now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	for i, r := range results {
		rec, ok := vi.Get(r.ChunkID)
		if !ok || rec.ModTime == 0 {
			continue
		}
		elapsedDays := now.Sub(time.Unix(rec.ModTime, 0)).Hours() / 24
		if elapsedDays < 0 {
			elapsedDays = 0
		}
		decay := math.Pow(0.5, elapsedDays/halfLifeDays)
		results[i].Score *= decay
	}
}

func filterMinScore(results []Result, minScore float64) []Result {
	out := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

func sortByScore(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// applyLinkBoost multiplies by 1.2 the score of any result that is a link
// neighbor of one of the top 3 results, then leaves re-sorting to the
// caller.
func applyLinkBoost(results []Result, neighbors NeighborLookup) {
	if len(results) == 0 {
		return
	}

	boosted := make(map[string]bool)
	top := results
	if len(top) > 3 {
		top = top[:3]
	}
	for _, r := range top {
		for _, n := range neighbors(r.ChunkID) {
			boosted[n] = true
		}
	}

	for i, r := range results {
		if boosted[r.ChunkID] {
			results[i].Score *= 1.2
		}
	}
}
