package lexical

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestUpsertAndSearch_MatchesContent(t *testing.T) {
	idx := newTestIndex(t)

	b := idx.NewBatch()
	require.NoError(t, b.UpsertChunk("auth.md#1", "auth.md", "Use a bearer token for authentication.", []string{"Auth", "Tokens"}))
	require.NoError(t, b.UpsertChunk("other.md#0", "other.md", "Unrelated content about cooking.", nil))
	require.NoError(t, b.Commit())

	hits, err := idx.Search(context.Background(), "bearer token", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "auth.md#1", hits[0].ChunkID)
	assert.Equal(t, "auth.md", hits[0].SourcePath)
}

func TestSearch_HeadingHierarchyIsBoosted(t *testing.T) {
	idx := newTestIndex(t)

	b := idx.NewBatch()
	require.NoError(t, b.UpsertChunk("a.md#0", "a.md", "some other text entirely", []string{"Tokens"}))
	require.NoError(t, b.UpsertChunk("b.md#0", "b.md", "tokens tokens tokens tokens appear here in the body", nil))
	require.NoError(t, b.Commit())

	hits, err := idx.Search(context.Background(), "tokens", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.md#0", hits[0].ChunkID)
}

func TestRemoveChunk_NoLongerMatches(t *testing.T) {
	idx := newTestIndex(t)

	b := idx.NewBatch()
	require.NoError(t, b.UpsertChunk("a.md#0", "a.md", "unique searchable phrase", nil))
	require.NoError(t, b.Commit())

	b2 := idx.NewBatch()
	b2.RemoveChunk("a.md#0")
	require.NoError(t, b2.Commit())

	hits, err := idx.Search(context.Background(), "unique searchable phrase", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemoveFile_DropsAllChunksForPath(t *testing.T) {
	idx := newTestIndex(t)

	b := idx.NewBatch()
	require.NoError(t, b.UpsertChunk("a.md#0", "a.md", "first chunk of a", nil))
	require.NoError(t, b.UpsertChunk("a.md#1", "a.md", "second chunk of a", nil))
	require.NoError(t, b.UpsertChunk("b.md#0", "b.md", "chunk of b", nil))
	require.NoError(t, b.Commit())

	require.NoError(t, idx.RemoveFile(context.Background(), "a.md"))

	hits, err := idx.Search(context.Background(), "chunk", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.md", hits[0].SourcePath)
}

func TestSearch_EmptyQueryReturnsNoHits(t *testing.T) {
	idx := newTestIndex(t)
	hits, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStripMarkdown_RemovesFormattingKeepsText(t *testing.T) {
	in := "# Heading\nSee [docs](https://x.com) and [[guides/setup|Setup]].\n```go\nfunc f() {}\n```\n**bold** and _italic_."
	out := stripMarkdown(in)

	assert.NotContains(t, out, "#")
	assert.NotContains(t, out, "[")
	assert.NotContains(t, out, "**")
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "Setup")
	assert.Contains(t, out, "func f() {}")
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "italic")
}
