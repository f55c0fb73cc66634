// Package lexical is the BM25 full-text index: a bleve segmented index
// directory (default "<index_dir>/fts/"), storing chunk_id and
// source_path as stored, untokenized keys and indexing content and
// heading_hierarchy through bleve's English analyzer (stemmed, not
// stored). heading_hierarchy carries a 1.5x query-time boost over raw
// content so a hit on a section's own title outranks an equal hit buried
// in its body.
package lexical

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kestrel-dev/mdvdb/internal/errs"
)

const headingBoost = 1.5

// Hit is one full-text match.
type Hit struct {
	ChunkID    string
	SourcePath string
	Score      float64
}

// Index wraps a bleve index bound to its own directory, separate from the
// vector index's file.
type Index struct {
	bleveIdx bleve.Index
	path     string
}

type chunkDoc struct {
	ChunkID          string `json:"chunk_id"`
	SourcePath       string `json:"source_path"`
	Content          string `json:"content"`
	HeadingHierarchy string `json:"heading_hierarchy"`
}

// Open creates the index at path if it doesn't exist yet, or opens the
// existing one.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Fts, "open full-text index", err)
	}
	return &Index{bleveIdx: idx, path: path}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	keyField := bleve.NewTextFieldMapping()
	keyField.Analyzer = keyword.Name
	keyField.Store = true
	keyField.IncludeInAll = false

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "en"
	contentField.Store = false

	headingField := bleve.NewTextFieldMapping()
	headingField.Analyzer = "en"
	headingField.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("chunk_id", keyField)
	doc.AddFieldMappingsAt("source_path", keyField)
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("heading_hierarchy", headingField)

	im.DefaultMapping = doc
	return im
}

// Close releases the underlying bleve index.
func (idx *Index) Close() error {
	return idx.bleveIdx.Close()
}

// DocCount reports how many documents are currently indexed, used by the
// engine's open-time consistency guard to detect a lexical index that
// never received its chunks (a crash between the vector and lexical
// commits).
func (idx *Index) DocCount() (uint64, error) {
	n, err := idx.bleveIdx.DocCount()
	if err != nil {
		return 0, errs.Wrap(errs.Fts, "count full-text documents", err)
	}
	return n, nil
}

// Batch accumulates chunk upserts and removals for a single commit. The
// ingest pipeline builds one Batch per run and commits it once, never
// per-file: bleve's segment merge cost is amortized across the whole
// ingest, not paid once per changed file.
type Batch struct {
	idx *Index
	b   *bleve.Batch
}

// NewBatch starts a new, uncommitted batch.
func (idx *Index) NewBatch() *Batch {
	return &Batch{idx: idx, b: idx.bleveIdx.NewBatch()}
}

// UpsertChunk stages a chunk for indexing. heading is the breadcrumb
// joined into one string for the boosted field.
func (b *Batch) UpsertChunk(chunkID, sourcePath, content string, breadcrumb []string) error {
	doc := chunkDoc{
		ChunkID:          chunkID,
		SourcePath:       sourcePath,
		Content:          stripMarkdown(content),
		HeadingHierarchy: strings.Join(breadcrumb, " "),
	}
	if err := b.b.Index(chunkID, doc); err != nil {
		return errs.Wrap(errs.Fts, "stage chunk for full-text index", err)
	}
	return nil
}

// RemoveChunk stages a chunk ID for deletion.
func (b *Batch) RemoveChunk(chunkID string) {
	b.b.Delete(chunkID)
}

// Commit executes every staged change as a single bleve batch write.
func (b *Batch) Commit() error {
	if b.b.Size() == 0 {
		return nil
	}
	if err := b.idx.bleveIdx.Batch(b.b); err != nil {
		return errs.Wrap(errs.Fts, "commit full-text batch", err)
	}
	return nil
}

// Search runs a BM25 query across content and heading_hierarchy, the
// latter boosted 1.5x, returning up to limit hits ordered by score.
func (idx *Index) Search(ctx context.Context, queryStr string, limit int) ([]Hit, error) {
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return nil, nil
	}

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")

	headingQuery := bleve.NewMatchQuery(queryStr)
	headingQuery.SetField("heading_hierarchy")
	headingQuery.SetBoost(headingBoost)

	combined := bleve.NewDisjunctionQuery(contentQuery, headingQuery)

	req := bleve.NewSearchRequest(combined)
	req.Size = limit
	req.Fields = []string{"chunk_id", "source_path"}

	result, err := idx.bleveIdx.SearchInContext(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.Fts, "full-text search", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		sourcePath, _ := h.Fields["source_path"].(string)
		hits = append(hits, Hit{ChunkID: h.ID, SourcePath: sourcePath, Score: h.Score})
	}
	return hits, nil
}

// RemoveFile finds every chunk belonging to sourcePath and stages their
// deletion in a fresh batch, committed immediately. Used when a file is
// deleted outright rather than re-ingested with fewer chunks (in the
// latter case the ingest pipeline already knows the stale chunk IDs from
// the vector index and removes them directly via RemoveChunk).
func (idx *Index) RemoveFile(ctx context.Context, sourcePath string) error {
	q := bleve.NewTermQuery(sourcePath)
	q.SetField("source_path")

	req := bleve.NewSearchRequest(q)
	req.Size = maxFileChunks
	req.Fields = nil

	result, err := idx.bleveIdx.SearchInContext(ctx, req)
	if err != nil {
		return errs.Wrap(errs.Fts, "find chunks for file removal", err)
	}
	if len(result.Hits) == 0 {
		return nil
	}

	batch := idx.NewBatch()
	for _, h := range result.Hits {
		batch.RemoveChunk(h.ID)
	}
	return batch.Commit()
}

// maxFileChunks bounds the single-file chunk-lookup query used by
// RemoveFile. A markdown file split at 512 tokens per chunk would need to
// be several megabytes to exceed this.
const maxFileChunks = 100000
