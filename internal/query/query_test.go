package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
	"github.com/kestrel-dev/mdvdb/internal/lexical"
	"github.com/kestrel-dev/mdvdb/internal/vectorindex"
)

func setup(t *testing.T) (*vectorindex.Index, *lexical.Index, embed.Provider) {
	t.Helper()
	provider := embed.NewMockProvider(8)

	vi := vectorindex.New(embed.Config{Provider: "mock", Model: "mock", Dimensions: 8})
	li, err := lexical.Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = li.Close() })

	docs := []struct {
		id, path, content string
		tags              []jsonvalue.Value
	}{
		{"auth.md#0", "auth.md", "Use a bearer token for authentication.", []jsonvalue.Value{jsonvalue.String("security")}},
		{"cook.md#0", "cook.md", "Simmer the sauce for twenty minutes.", []jsonvalue.Value{jsonvalue.String("food")}},
	}

	batch := li.NewBatch()
	for _, d := range docs {
		vec, err := provider.EmbedBatch(context.Background(), []string{d.content})
		require.NoError(t, err)
		require.NoError(t, vi.Upsert(d.id, vec[0], vectorindex.ChunkRecord{
			SourcePath: d.path,
			Content:    d.content,
			ModTime:    time.Now().Unix(),
			Metadata:   jsonvalue.Map(map[string]jsonvalue.Value{"tags": jsonvalue.List(d.tags)}),
		}))
		require.NoError(t, batch.UpsertChunk(d.id, d.path, d.content, nil))
	}
	require.NoError(t, batch.Commit())

	return vi, li, provider
}

func TestRun_SemanticModeFindsClosestMatch(t *testing.T) {
	vi, li, provider := setup(t)
	results, err := Run(context.Background(), vi, li, provider, "bearer token", Options{Mode: Semantic, Limit: 5}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "auth.md#0", results[0].ChunkID)
}

func TestRun_LexicalModeNormalizesScoreBelowOne(t *testing.T) {
	vi, li, provider := setup(t)
	results, err := Run(context.Background(), vi, li, provider, "bearer token", Options{Mode: Lexical, Limit: 5, BM25NormK: 1.5}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Less(t, results[0].Score, 1.0)
}

func TestRun_HybridScoreNeverExceedsOne(t *testing.T) {
	vi, li, provider := setup(t)
	results, err := Run(context.Background(), vi, li, provider, "bearer token", DefaultOptions(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.LessOrEqual(t, r.Score, 1.0+1e-9)
	}
}

func TestHybridScores_DoubleFirstPlaceScoresExactlyOne(t *testing.T) {
	k := 60
	rrfRaw := 1/float64(k+1) + 1/float64(k+1)
	maxPossible := 2 / float64(k+1)
	assert.InDelta(t, 1.0, rrfRaw/maxPossible, 1e-9)
}

func TestRun_PathPrefixFiltersResults(t *testing.T) {
	vi, li, provider := setup(t)
	results, err := Run(context.Background(), vi, li, provider, "sauce", Options{Mode: Lexical, Limit: 5, BM25NormK: 1.5, PathPrefix: "cook"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "cook.md", r.SourcePath)
	}
}

func TestRun_StructuredFilterMatchesTagMembership(t *testing.T) {
	vi, li, provider := setup(t)
	opts := Options{
		Mode:      Hybrid,
		Limit:     5,
		RRFK:      60,
		BM25NormK: 1.5,
		Filters: []Filter{
			{Field: "tags", Op: OpIn, Value: jsonvalue.List([]jsonvalue.Value{jsonvalue.String("security")})},
		},
	}
	results, err := Run(context.Background(), vi, li, provider, "bearer token", opts, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "auth.md", r.SourcePath)
	}
}

func TestRun_LimitTruncatesResults(t *testing.T) {
	vi, li, provider := setup(t)
	results, err := Run(context.Background(), vi, li, provider, "bearer sauce", Options{Mode: Lexical, Limit: 1, BM25NormK: 1.5}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}

func TestRun_LinkBoostMultipliesNeighborScore(t *testing.T) {
	vi, li, provider := setup(t)
	neighbors := func(chunkID string) []string {
		if chunkID == "auth.md#0" {
			return []string{"cook.md#0"}
		}
		return nil
	}
	before, err := Run(context.Background(), vi, li, provider, "bearer sauce", Options{Mode: Lexical, Limit: 5, BM25NormK: 1.5}, nil)
	require.NoError(t, err)

	after, err := Run(context.Background(), vi, li, provider, "bearer sauce", Options{Mode: Lexical, Limit: 5, BM25NormK: 1.5, LinkBoost: true}, neighbors)
	require.NoError(t, err)

	scoreBefore := scoreOf(before, "cook.md#0")
	scoreAfter := scoreOf(after, "cook.md#0")
	if scoreBefore > 0 {
		assert.Greater(t, scoreAfter, scoreBefore)
	}
}

func scoreOf(results []Result, chunkID string) float64 {
	for _, r := range results {
		if r.ChunkID == chunkID {
			return r.Score
		}
	}
	return 0
}

func TestMatchesFilter_RangeFallsBackToStringComparisonForNonNumericFields(t *testing.T) {
	meta := jsonvalue.Map(map[string]jsonvalue.Value{"status": jsonvalue.String("m")})

	assert.True(t, matchesFilter(meta, Filter{Field: "status", Op: OpGTE, Value: jsonvalue.String("a")}))
	assert.True(t, matchesFilter(meta, Filter{Field: "status", Op: OpLTE, Value: jsonvalue.String("z")}))
	assert.False(t, matchesFilter(meta, Filter{Field: "status", Op: OpGT, Value: jsonvalue.String("z")}))
}

func TestMatchesFilter_RangePrefersNumericComparisonWhenBothSidesAreNumbers(t *testing.T) {
	meta := jsonvalue.Map(map[string]jsonvalue.Value{"priority": jsonvalue.Number(5)})

	assert.True(t, matchesFilter(meta, Filter{Field: "priority", Op: OpGT, Value: jsonvalue.Number(1)}))
	assert.False(t, matchesFilter(meta, Filter{Field: "priority", Op: OpLT, Value: jsonvalue.Number(1)}))
}
