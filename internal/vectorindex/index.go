// Package vectorindex is the on-disk HNSW vector index: a single file
// memory-mapped on open, holding an archived metadata region (chunk
// records, the embedding provider's compatibility fingerprint) and a
// native coder/hnsw graph region. The package owns no locking of its own;
// callers (internal/engine) serialize reads and writes around it.
package vectorindex

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/coder/hnsw"

	"github.com/blevesearch/mmap-go"

	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/errs"
	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
)

// ChunkRecord is everything the index keeps about one chunk beyond its
// vector: enough to enrich a search hit without re-parsing the source file,
// and the vector itself, kept here (not only inside the HNSW region) so
// Save can rebuild the graph from scratch without a by-key vector lookup
// that coder/hnsw's Graph does not expose.
type ChunkRecord struct {
	ChunkID     string
	SourcePath  string
	Breadcrumb  []string
	Content     string
	StartLine   int
	EndLine     int
	ContentHash string
	ModTime     int64
	Metadata    jsonvalue.Value
	Vector      []float32
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	ChunkID string
	Score   float32
}

// StoredFile is the archived record of one source file: enough to drive
// hash-skip ingestion and stale-file detection without re-parsing the file
// from disk. Frontmatter is archived as its JSON text (not the dynamic
// jsonvalue.Value directly) to keep the archival schema a flat, versioned
// shape independent of jsonvalue's internal layout.
type StoredFile struct {
	RelPath         string
	ContentHash     string
	FrontmatterJSON string
	Size            int64
	ChunkIDs        []string
	ModTime         int64
	IndexedAt       int64
	// Links is the file's raw, unresolved link records, archived so the
	// link-graph slot can be rebuilt from every known file on a
	// single-file ingest without re-reading and re-parsing the rest of
	// the corpus from disk.
	Links []StoredLink
}

// StoredLink is the archived form of a raw link record (mdparse.Link),
// duplicated here rather than imported so the metadata region's schema
// doesn't depend on the parser package's layout.
type StoredLink struct {
	Target   string
	Display  string
	Line     int
	Wikilink bool
}

type graphParams struct {
	M        int
	EfSearch int
	Ml       float64
}

func defaultGraphParams() graphParams {
	return graphParams{M: 16, EfSearch: 20, Ml: 0.25}
}

// archivedMetadata is the gob-encoded contents of the metadata region.
// Files, LastUpdated, and Aux are additive: an index written before they
// existed decodes with them at their zero value, never an error.
type archivedMetadata struct {
	Provider    embed.Config
	Graph       graphParams
	Records     map[string]ChunkRecord
	Files       map[string]StoredFile
	LastUpdated int64
	// Aux holds the optional, independently-owned slots (schema inference,
	// cluster state, link graph) as pre-encoded blobs keyed by slot name,
	// so this package never imports theirs.
	Aux map[string][]byte
}

// Index is an in-memory HNSW graph plus its chunk metadata. Vectors are
// always cosine-normalized on insert, matching the index's fixed metric.
type Index struct {
	provider embed.Config
	params   graphParams

	graph   *hnsw.Graph[uint64]
	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64
	records map[string]ChunkRecord

	files       map[string]StoredFile
	lastUpdated int64
	aux         map[string][]byte

	mmapHandle mmap.MMap
}

// New creates an empty index bound to a given embedding provider's
// compatibility fingerprint.
func New(provider embed.Config) *Index {
	return newIndex(provider, defaultGraphParams())
}

func newIndex(provider embed.Config, params graphParams) *Index {
	idx := &Index{
		provider: provider,
		params:   params,
		idToKey:  make(map[string]uint64),
		keyToID:  make(map[uint64]string),
		records:  make(map[string]ChunkRecord),
		files:    make(map[string]StoredFile),
		aux:      make(map[string][]byte),
	}
	idx.graph = buildGraph(params)
	return idx
}

func buildGraph(p graphParams) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = p.M
	g.EfSearch = p.EfSearch
	g.Ml = p.Ml
	return g
}

// ProviderConfig returns the embedding compatibility fingerprint this index
// was built with.
func (idx *Index) ProviderConfig() embed.Config { return idx.provider }

// Len returns the number of live (non-orphaned) chunks.
func (idx *Index) Len() int { return len(idx.idToKey) }

// Upsert inserts or replaces the vector and record for a chunk ID. A
// replacement orphans the old HNSW node rather than deleting it in place:
// coder/hnsw's own authors warn that deleting the last-inserted node can
// corrupt the graph, so stale nodes are left in place and excluded at
// Search time, then dropped for good on the next Save compaction.
func (idx *Index) Upsert(chunkID string, vector []float32, rec ChunkRecord) error {
	if len(vector) != idx.provider.Dimensions {
		return errs.New(errs.Config, fmt.Sprintf(
			"vector dimension %d does not match provider dimension %d", len(vector), idx.provider.Dimensions))
	}

	normalized := make([]float32, len(vector))
	copy(normalized, vector)
	normalizeInPlace(normalized)

	if oldKey, exists := idx.idToKey[chunkID]; exists {
		delete(idx.keyToID, oldKey)
		delete(idx.idToKey, chunkID)
	}

	key := idx.nextKey
	idx.nextKey++
	idx.graph.Add(hnsw.MakeNode(key, normalized))
	idx.idToKey[chunkID] = key
	idx.keyToID[key] = chunkID

	rec.ChunkID = chunkID
	rec.Vector = normalized
	idx.records[chunkID] = rec

	return nil
}

// RemoveFile drops every chunk whose SourcePath matches, returning the
// removed chunk IDs so the caller can keep the lexical index in sync.
func (idx *Index) RemoveFile(sourcePath string) []string {
	var removed []string
	for chunkID, rec := range idx.records {
		if rec.SourcePath != sourcePath {
			continue
		}
		if key, exists := idx.idToKey[chunkID]; exists {
			delete(idx.keyToID, key)
			delete(idx.idToKey, chunkID)
		}
		delete(idx.records, chunkID)
		removed = append(removed, chunkID)
	}
	sort.Strings(removed)
	return removed
}

// Get returns the stored record for a chunk ID.
func (idx *Index) Get(chunkID string) (ChunkRecord, bool) {
	rec, ok := idx.records[chunkID]
	return rec, ok
}

// UpsertFile records or replaces a source file's archived metadata (I1/I2:
// every chunk ID it lists must already exist as a key via Upsert).
func (idx *Index) UpsertFile(f StoredFile) {
	idx.files[f.RelPath] = f
}

// GetFile returns the archived record for a source file.
func (idx *Index) GetFile(relPath string) (StoredFile, bool) {
	f, ok := idx.files[relPath]
	return f, ok
}

// Files returns every archived file record, keyed by relative path. The
// returned map is the index's own; callers must not mutate it.
func (idx *Index) Files() map[string]StoredFile {
	return idx.files
}

// DeleteFileMeta drops a file's archived record without touching any
// chunk. Callers remove the file's chunks via RemoveFile first.
func (idx *Index) DeleteFileMeta(relPath string) {
	delete(idx.files, relPath)
}

// LastUpdated returns the timestamp of the most recent successful ingest.
func (idx *Index) LastUpdated() int64 { return idx.lastUpdated }

// SetLastUpdated stamps the index with the time of the current ingest run.
func (idx *Index) SetLastUpdated(unixSeconds int64) { idx.lastUpdated = unixSeconds }

// Aux returns a named optional slot's pre-encoded bytes (schema inference,
// cluster state, link graph), as set by SetAux on a prior ingest. Absent on
// indexes that never wrote that slot.
func (idx *Index) Aux(slot string) ([]byte, bool) {
	b, ok := idx.aux[slot]
	return b, ok
}

// SetAux stores a named optional slot's pre-encoded bytes, overwriting any
// previous value.
func (idx *Index) SetAux(slot string, data []byte) {
	if idx.aux == nil {
		idx.aux = make(map[string][]byte)
	}
	idx.aux[slot] = data
}

// Search returns up to k nearest neighbors to query by cosine similarity.
// Orphaned (lazily-deleted) nodes are filtered out of the result, so the
// returned count can be smaller than k even when the index holds at least
// k live chunks.
func (idx *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != idx.provider.Dimensions {
		return nil, errs.New(errs.Config, fmt.Sprintf(
			"query dimension %d does not match provider dimension %d", len(query), idx.provider.Dimensions))
	}
	if idx.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := idx.graph.Search(normalized, k)

	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		chunkID, ok := idx.keyToID[node.Key]
		if !ok {
			continue
		}
		distance := idx.graph.Distance(normalized, node.Value)
		results = append(results, SearchResult{ChunkID: chunkID, Score: 1 - distance/2})
	}

	return results, nil
}

// Save compacts the graph (reassigning keys 0..N-1 in lexicographic
// chunk-ID order) and writes the header, metadata region, and HNSW region
// to path via a temp-file-plus-rename so a crash mid-write never leaves a
// truncated index at the real path.
func (idx *Index) Save(path string) error {
	idx.compact()

	metaBuf := &bytes.Buffer{}
	if err := gob.NewEncoder(metaBuf).Encode(archivedMetadata{
		Provider:    idx.provider,
		Graph:       idx.params,
		Records:     idx.records,
		Files:       idx.files,
		LastUpdated: idx.lastUpdated,
		Aux:         idx.aux,
	}); err != nil {
		return errs.Wrap(errs.Serialization, "encode index metadata", err)
	}

	hnswBuf := &bytes.Buffer{}
	if err := idx.graph.Export(hnswBuf); err != nil {
		return errs.Wrap(errs.Serialization, "export hnsw graph", err)
	}

	h := header{
		Version:    formatVersion,
		MetaOffset: headerSize,
		MetaSize:   uint64(metaBuf.Len()),
		HNSWOffset: headerSize + uint64(metaBuf.Len()),
		HNSWSize:   uint64(hnswBuf.Len()),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, "create index directory", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errs.Wrap(errs.IO, "create temp index file", err)
	}

	writeErr := func() error {
		if _, err := f.Write(encodeHeader(h)); err != nil {
			return err
		}
		if _, err := f.Write(metaBuf.Bytes()); err != nil {
			return err
		}
		if _, err := f.Write(hnswBuf.Bytes()); err != nil {
			return err
		}
		return nil
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.IO, "write index file", writeErr)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.IO, "close index file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.IO, "rename index file into place", err)
	}

	return nil
}

// compact rebuilds the graph so HNSW keys are exactly 0..N-1 in
// lexicographic chunk-ID order. This is the invariant Open relies on to
// reconstruct the ID<->key map without persisting it directly.
func (idx *Index) compact() {
	ids := make([]string, 0, len(idx.idToKey))
	for id := range idx.idToKey {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	newGraph := buildGraph(idx.params)
	newIDToKey := make(map[string]uint64, len(ids))
	newKeyToID := make(map[uint64]string, len(ids))

	for i, id := range ids {
		key := uint64(i)
		newGraph.Add(hnsw.MakeNode(key, idx.records[id].Vector))
		newIDToKey[id] = key
		newKeyToID[key] = id
	}

	idx.graph = newGraph
	idx.idToKey = newIDToKey
	idx.keyToID = newKeyToID
	idx.nextKey = uint64(len(ids))
}

// Open memory-maps path and reconstructs an Index from it. The ID<->key
// map is rebuilt by sorting the decoded chunk IDs and enumerating them in
// the same order Save used to assign keys, not by persisting the map.
func Open(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IndexNotFound, "open index file", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "memory-map index file", err)
	}

	h, err := decodeHeader(m)
	if err != nil {
		_ = m.Unmap()
		return nil, errs.Wrap(errs.IndexCorrupted, "decode index header", err)
	}

	if uint64(len(m)) < h.MetaOffset+h.MetaSize || uint64(len(m)) < h.HNSWOffset+h.HNSWSize {
		_ = m.Unmap()
		return nil, errs.New(errs.IndexCorrupted, "index file shorter than header regions describe")
	}

	metaBytes := m[h.MetaOffset : h.MetaOffset+h.MetaSize]
	var meta archivedMetadata
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		_ = m.Unmap()
		return nil, errs.Wrap(errs.IndexCorrupted, "decode index metadata region", err)
	}

	files := meta.Files
	if files == nil {
		files = make(map[string]StoredFile)
	}
	aux := meta.Aux
	if aux == nil {
		aux = make(map[string][]byte)
	}

	idx := &Index{
		provider:    meta.Provider,
		params:      meta.Graph,
		records:     meta.Records,
		files:       files,
		lastUpdated: meta.LastUpdated,
		aux:         aux,
		idToKey:     make(map[string]uint64),
		keyToID:     make(map[uint64]string),
		mmapHandle:  m,
	}

	ids := make([]string, 0, len(meta.Records))
	for id := range meta.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i, id := range ids {
		key := uint64(i)
		idx.idToKey[id] = key
		idx.keyToID[key] = id
	}
	idx.nextKey = uint64(len(ids))

	idx.graph = buildGraph(idx.params)
	hnswBytes := m[h.HNSWOffset : h.HNSWOffset+h.HNSWSize]
	if err := idx.graph.Import(bufio.NewReader(bytes.NewReader(hnswBytes))); err != nil {
		_ = m.Unmap()
		return nil, errs.Wrap(errs.IndexCorrupted, "import hnsw region", err)
	}

	return idx, nil
}

// Close releases the memory-mapped region, if this Index was produced by
// Open. A freshly-constructed (New) index has nothing to release.
func (idx *Index) Close() error {
	if idx.mmapHandle == nil {
		return nil
	}
	return idx.mmapHandle.Unmap()
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
