package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/errs"
)

func testProvider() embed.Config {
	return embed.Config{Provider: "mock", Model: "mock", Dimensions: 4}
}

func TestUpsertAndSearch_FindsClosestVector(t *testing.T) {
	idx := New(testProvider())

	require.NoError(t, idx.Upsert("a.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "a.md"}))
	require.NoError(t, idx.Upsert("b.md#0", []float32{0, 1, 0, 0}, ChunkRecord{SourcePath: "b.md"}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.md#0", results[0].ChunkID)
}

func TestUpsert_DimensionMismatchRejected(t *testing.T) {
	idx := New(testProvider())
	err := idx.Upsert("a.md#0", []float32{1, 2}, ChunkRecord{})
	assert.Error(t, err)
}

func TestUpsert_ReplaceOrphansOldKeyButKeepsOneLiveRecord(t *testing.T) {
	idx := New(testProvider())
	require.NoError(t, idx.Upsert("a.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "a.md", ContentHash: "h1"}))
	require.NoError(t, idx.Upsert("a.md#0", []float32{0, 0, 1, 0}, ChunkRecord{SourcePath: "a.md", ContentHash: "h2"}))

	assert.Equal(t, 1, idx.Len())
	rec, ok := idx.Get("a.md#0")
	require.True(t, ok)
	assert.Equal(t, "h2", rec.ContentHash)
}

func TestRemoveFile_DropsOnlyMatchingSourcePath(t *testing.T) {
	idx := New(testProvider())
	require.NoError(t, idx.Upsert("a.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "a.md"}))
	require.NoError(t, idx.Upsert("a.md#1", []float32{0, 1, 0, 0}, ChunkRecord{SourcePath: "a.md"}))
	require.NoError(t, idx.Upsert("b.md#0", []float32{0, 0, 1, 0}, ChunkRecord{SourcePath: "b.md"}))

	removed := idx.RemoveFile("a.md")
	assert.Equal(t, []string{"a.md#0", "a.md#1"}, removed)
	assert.Equal(t, 1, idx.Len())

	_, ok := idx.Get("a.md#0")
	assert.False(t, ok)
}

func TestSaveOpen_RoundTripsVectorsAndRecords(t *testing.T) {
	idx := New(testProvider())
	require.NoError(t, idx.Upsert("b.md#0", []float32{0, 1, 0, 0}, ChunkRecord{SourcePath: "b.md", Content: "B"}))
	require.NoError(t, idx.Upsert("a.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "a.md", Content: "A"}))

	path := filepath.Join(t.TempDir(), "index.mdv")
	require.NoError(t, idx.Save(path))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, testProvider(), reopened.ProviderConfig())

	rec, ok := reopened.Get("a.md#0")
	require.True(t, ok)
	assert.Equal(t, "A", rec.Content)

	results, err := reopened.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.md#0", results[0].ChunkID)
}

func TestCompact_AssignsKeysInLexicographicOrder(t *testing.T) {
	idx := New(testProvider())
	require.NoError(t, idx.Upsert("z.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "z.md"}))
	require.NoError(t, idx.Upsert("a.md#0", []float32{0, 1, 0, 0}, ChunkRecord{SourcePath: "a.md"}))
	require.NoError(t, idx.Upsert("m.md#0", []float32{0, 0, 1, 0}, ChunkRecord{SourcePath: "m.md"}))

	idx.compact()

	assert.Equal(t, uint64(0), idx.idToKey["a.md#0"])
	assert.Equal(t, uint64(1), idx.idToKey["m.md#0"])
	assert.Equal(t, uint64(2), idx.idToKey["z.md#0"])
}

func TestOpen_MissingFileReturnsIndexNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mdv"))
	assert.Error(t, err)
	assert.True(t, errs.Is(err, errs.IndexNotFound))
}

func TestSaveOpen_RoundTripsFilesAuxAndLastUpdated(t *testing.T) {
	idx := New(testProvider())
	require.NoError(t, idx.Upsert("a.md#0", []float32{1, 0, 0, 0}, ChunkRecord{SourcePath: "a.md"}))
	idx.UpsertFile(StoredFile{
		RelPath:         "a.md",
		ContentHash:     "deadbeef",
		FrontmatterJSON: `{"tags":["go"]}`,
		ChunkIDs:        []string{"a.md#0"},
	})
	idx.SetLastUpdated(1700000000)
	idx.SetAux("schema", []byte("encoded-schema"))

	path := filepath.Join(t.TempDir(), "index.mdv")
	require.NoError(t, idx.Save(path))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	f, ok := reopened.GetFile("a.md")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", f.ContentHash)
	assert.Equal(t, int64(1700000000), reopened.LastUpdated())

	data, ok := reopened.Aux("schema")
	require.True(t, ok)
	assert.Equal(t, "encoded-schema", string(data))
}

func TestDeleteFileMeta_RemovesOnlyFileRecord(t *testing.T) {
	idx := New(testProvider())
	idx.UpsertFile(StoredFile{RelPath: "a.md"})
	idx.UpsertFile(StoredFile{RelPath: "b.md"})

	idx.DeleteFileMeta("a.md")

	_, ok := idx.GetFile("a.md")
	assert.False(t, ok)
	_, ok = idx.GetFile("b.md")
	assert.True(t, ok)
}
