// Package ingest is the write path (C7): it orchestrates discovery,
// parsing, chunking, embedding, and the atomic upsert into the vector and
// lexical indexes, then refreshes the optional schema/cluster/link-graph
// slots. A single Run call drives either a full-tree ingest or, when
// Options.SingleFile is set, the incremental path the watcher (C9) drives
// on every create/modify event.
package ingest

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-dev/mdvdb/internal/chunk"
	"github.com/kestrel-dev/mdvdb/internal/cluster"
	"github.com/kestrel-dev/mdvdb/internal/discover"
	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/engineconfig"
	"github.com/kestrel-dev/mdvdb/internal/errs"
	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
	"github.com/kestrel-dev/mdvdb/internal/lexical"
	"github.com/kestrel-dev/mdvdb/internal/linkgraph"
	"github.com/kestrel-dev/mdvdb/internal/mdparse"
	"github.com/kestrel-dev/mdvdb/internal/schema"
	"github.com/kestrel-dev/mdvdb/internal/vectorindex"
)

// EventKind identifies a pipeline phase transition delivered to a caller's
// progress callback (§4.7).
type EventKind string

const (
	Discovering EventKind = "discovering"
	Parsing     EventKind = "parsing"
	Skipped     EventKind = "skipped"
	Embedding   EventKind = "embedding"
	Saving      EventKind = "saving"
	Clustering  EventKind = "clustering"
	Cleaning    EventKind = "cleaning"
	Done        EventKind = "done"
)

// Event is one progress notification. Fields are populated according to
// Kind; zero-valued fields are simply not meaningful for that kind.
type Event struct {
	Kind EventKind

	Current, Total int
	Path           string

	Batch, BatchTotal       int
	ChunksDone, ChunksTotal int

	Removed int
}

// ProgressFunc receives pipeline phase events. A nil func means no
// reporting; Run never blocks waiting on it.
type ProgressFunc func(Event)

func emit(p ProgressFunc, e Event) {
	if p != nil {
		p(e)
	}
}

// Deps are the indexes and provider a single Run call operates on. Mu is
// the engine's single reader-preferring read/write lock (C10): Run takes a
// read lock for the cheap pre-embedding hash check and a write lock for the
// upsert-through-save mutation phase, never holding any lock across an
// embedding HTTP call.
type Deps struct {
	ProjectRoot string
	VI          *vectorindex.Index
	LI          *lexical.Index
	Provider    embed.Provider
	Mu          *sync.RWMutex
	Discoverer  *discover.Discoverer
}

// Options configures a single ingest run.
type Options struct {
	Config engineconfig.Config
	Force  bool
	// SingleFile, if non-empty, scopes the run to one project-root-relative
	// path instead of a full tree discovery (§4.9).
	SingleFile string
	Progress   ProgressFunc
}

// Result summarizes a completed (or cancelled) run.
type Result struct {
	FilesScanned   int
	FilesEmbedded  int
	ChunksEmbedded int
	ChunksSkipped  int
	FilesRemoved   int
	Cancelled      bool
}

type discoveredFile struct {
	relPath string
	absPath string
	modTime int64
}

// Run executes the pipeline described in §4.7.
func Run(ctx context.Context, d Deps, opts Options) (Result, error) {
	var result Result

	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	emit(opts.Progress, Event{Kind: Discovering})
	discovered, err := discoverFiles(d, opts)
	if err != nil {
		return result, err
	}
	result.FilesScanned = len(discovered)

	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	d.Mu.RLock()
	priorHashes := make(map[string]string, len(d.VI.Files()))
	for path, f := range d.VI.Files() {
		priorHashes[path] = f.ContentHash
	}
	d.Mu.RUnlock()

	parsed := make([]*mdparse.File, 0, len(discovered))
	var toEmbed []chunk.Chunk
	var embedItems []embed.Item

	for i, df := range discovered {
		emit(opts.Progress, Event{Kind: Parsing, Current: i + 1, Total: len(discovered), Path: df.relPath})

		data, err := os.ReadFile(df.absPath)
		if err != nil {
			slog.Warn("ingest: failed to read file", slog.String("path", df.relPath), slog.String("error", err.Error()))
			continue
		}
		pf := mdparse.Parse(df.relPath, data, df.modTime)
		parsed = append(parsed, pf)

		if !opts.Force && priorHashes[pf.RelPath] == pf.ContentHash {
			if prior, ok := getFile(d, pf.RelPath); ok {
				result.ChunksSkipped += len(prior.ChunkIDs)
			}
			emit(opts.Progress, Event{Kind: Skipped, Current: i + 1, Total: len(discovered), Path: df.relPath})
			continue
		}

		chunks := chunk.Split(pf, chunk.Options{
			MaxTokens:     opts.Config.Chunking.MaxTokens,
			OverlapTokens: opts.Config.Chunking.OverlapTokens,
		})
		toEmbed = append(toEmbed, chunks...)
		for _, c := range chunks {
			embedItems = append(embedItems, embed.Item{ChunkID: c.ID, Text: c.Content})
		}
		result.FilesEmbedded++
	}

	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	emit(opts.Progress, Event{Kind: Embedding, Total: len(embedItems), ChunksTotal: len(embedItems)})
	embedded, err := embed.BatchEmbed(ctx, d.Provider, embedItems, opts.Config.Embeddings.BatchSize)
	if err != nil {
		// §7: a per-batch embedding error after retries aborts the run;
		// the on-disk state remains the pre-run snapshot since nothing
		// has been upserted yet.
		return result, errs.Wrap(errs.EmbeddingProvider, "embed ingest batch", err)
	}
	result.ChunksEmbedded = len(embedded)

	vectorsByID := make(map[string][]float32, len(embedded))
	for _, r := range embedded {
		vectorsByID[r.ChunkID] = r.Vector
	}
	chunksByFile := make(map[string][]chunk.Chunk)
	for _, c := range toEmbed {
		chunksByFile[c.SourcePath] = append(chunksByFile[c.SourcePath], c)
	}

	now := time.Now().Unix()

	d.Mu.Lock()
	defer d.Mu.Unlock()

	liBatch := d.LI.NewBatch()

	for _, pf := range parsed {
		chunks, hasNew := chunksByFile[pf.RelPath]
		if !hasNew {
			continue
		}
		if prior, ok := d.VI.GetFile(pf.RelPath); ok {
			for _, oldID := range prior.ChunkIDs {
				stillPresent := false
				for _, c := range chunks {
					if c.ID == oldID {
						stillPresent = true
						break
					}
				}
				if !stillPresent {
					liBatch.RemoveChunk(oldID)
				}
			}
		}

		chunkIDs := make([]string, 0, len(chunks))
		for _, c := range chunks {
			vec, ok := vectorsByID[c.ID]
			if !ok {
				continue
			}
			if err := d.VI.Upsert(c.ID, vec, vectorindex.ChunkRecord{
				SourcePath:  c.SourcePath,
				Breadcrumb:  c.Breadcrumb,
				Content:     c.Content,
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				ContentHash: pf.ContentHash,
				ModTime:     pf.ModTime,
				Metadata:    pf.Frontmatter,
			}); err != nil {
				return result, err
			}
			if err := liBatch.UpsertChunk(c.ID, c.SourcePath, c.Content, c.Breadcrumb); err != nil {
				return result, err
			}
			chunkIDs = append(chunkIDs, c.ID)
		}

		fmJSON, err := marshalFrontmatter(pf.Frontmatter)
		if err != nil {
			slog.Warn("ingest: failed to marshal frontmatter", slog.String("path", pf.RelPath), slog.String("error", err.Error()))
			fmJSON = "null"
		}
		d.VI.UpsertFile(vectorindex.StoredFile{
			RelPath:         pf.RelPath,
			ContentHash:     pf.ContentHash,
			FrontmatterJSON: fmJSON,
			Size:            pf.Size,
			ChunkIDs:        chunkIDs,
			ModTime:         pf.ModTime,
			IndexedAt:       now,
			Links:           toStoredLinks(pf.Links),
		})
	}

	if opts.SingleFile == "" {
		discoveredSet := make(map[string]bool, len(discovered))
		for _, df := range discovered {
			discoveredSet[df.relPath] = true
		}
		var removedFiles []string
		for path := range d.VI.Files() {
			if !discoveredSet[path] {
				removedFiles = append(removedFiles, path)
			}
		}
		sort.Strings(removedFiles)
		for _, path := range removedFiles {
			removedChunks := d.VI.RemoveFile(path)
			for _, id := range removedChunks {
				liBatch.RemoveChunk(id)
			}
			d.VI.DeleteFileMeta(path)
		}
		result.FilesRemoved = len(removedFiles)
		emit(opts.Progress, Event{Kind: Cleaning, Removed: len(removedFiles)})
	}

	if err := liBatch.Commit(); err != nil {
		return result, err
	}

	if ctx.Err() == nil {
		refreshAuxSlots(d, opts)
	} else {
		result.Cancelled = true
	}

	d.VI.SetLastUpdated(now)

	emit(opts.Progress, Event{Kind: Saving})
	if err := d.VI.Save(filepath.Join(d.ProjectRoot, opts.Config.Paths.IndexFilePath())); err != nil {
		return result, err
	}

	emit(opts.Progress, Event{Kind: Done})
	return result, nil
}

// RemoveFile is the delete-event path (§4.9): it removes a file's chunks
// and metadata from both indexes directly, without a discovery pass, then
// persists both.
func RemoveFile(ctx context.Context, d Deps, indexPath, relPath string) error {
	d.Mu.Lock()
	defer d.Mu.Unlock()

	d.VI.RemoveFile(relPath)
	d.VI.DeleteFileMeta(relPath)

	if err := d.LI.RemoveFile(ctx, relPath); err != nil {
		return err
	}

	return d.VI.Save(indexPath)
}

func discoverFiles(d Deps, opts Options) ([]discoveredFile, error) {
	if opts.SingleFile != "" {
		abs := filepath.Join(d.ProjectRoot, opts.SingleFile)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errs.Wrap(errs.IO, "stat single-file ingest scope", err)
		}
		return []discoveredFile{{
			relPath: filepath.ToSlash(opts.SingleFile),
			absPath: abs,
			modTime: info.ModTime().Unix(),
		}}, nil
	}

	var out []discoveredFile
	for _, sourceDir := range opts.Config.Paths.SourceDirs {
		root := filepath.Join(d.ProjectRoot, sourceDir)
		files, err := d.Discoverer.Discover(discover.Options{
			Root:         root,
			UserPatterns: opts.Config.Paths.IgnorePatterns,
			IndexDir:     filepath.Join(d.ProjectRoot, opts.Config.Paths.IndexDir),
		})
		if err != nil {
			return nil, errs.Wrap(errs.IO, "discover source directory", err)
		}
		for _, f := range files {
			rel := f.RelPath
			if sourceDir != "." {
				rel = filepath.ToSlash(filepath.Join(sourceDir, f.RelPath))
			}
			out = append(out, discoveredFile{relPath: rel, absPath: f.AbsPath, modTime: f.ModTime})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].relPath < out[j].relPath })
	return out, nil
}

func getFile(d Deps, relPath string) (vectorindex.StoredFile, bool) {
	d.Mu.RLock()
	defer d.Mu.RUnlock()
	return d.VI.GetFile(relPath)
}

func toStoredLinks(links []mdparse.Link) []vectorindex.StoredLink {
	out := make([]vectorindex.StoredLink, len(links))
	for i, l := range links {
		out[i] = vectorindex.StoredLink{Target: l.Target, Display: l.Display, Line: l.Line, Wikilink: l.Wikilink}
	}
	return out
}

func marshalFrontmatter(v jsonvalue.Value) (string, error) {
	if v.IsNull() {
		return "null", nil
	}
	return v.String(), nil
}

// refreshAuxSlots re-derives the schema, cluster, and link-graph slots from
// every file currently in the index (§4.7 steps 7-9), gob-encoding each
// into the archived Aux blob store. Failures in any one slot are logged and
// leave that slot at its previous value (§7: clustering and link-graph
// failures are non-fatal).
func refreshAuxSlots(d Deps, opts Options) {
	files := d.VI.Files()

	frontmatters := make([]jsonvalue.Value, 0, len(files))
	rawLinks := make([]linkgraph.RawLinks, 0, len(files))
	knownPaths := make(map[string]bool, len(files))
	for path := range files {
		knownPaths[path] = true
	}
	for path, f := range files {
		fm, err := jsonvalue.Parse([]byte(f.FrontmatterJSON))
		if err == nil {
			frontmatters = append(frontmatters, fm)
		}
		links := make([]mdparse.Link, len(f.Links))
		for i, l := range f.Links {
			links[i] = mdparse.Link{Target: l.Target, Display: l.Display, Line: l.Line, Wikilink: l.Wikilink}
		}
		rawLinks = append(rawLinks, linkgraph.RawLinks{SourcePath: path, Links: links})
	}

	sch := schema.Infer(frontmatters)
	if err := setAuxGob(d.VI, "schema", sch); err != nil {
		slog.Warn("ingest: failed to persist schema slot", slog.String("error", err.Error()))
	}

	graph := linkgraph.Build(rawLinks, knownPaths)
	if err := setAuxGob(d.VI, "linkgraph", graph); err != nil {
		slog.Warn("ingest: failed to persist link graph slot", slog.String("error", err.Error()))
	}

	if opts.Config.Clustering.Enabled {
		updateClusterSlot(d, opts, files)
	}
}

func updateClusterSlot(d Deps, opts Options, files map[string]vectorindex.StoredFile) {
	emit(opts.Progress, Event{Kind: Clustering})

	docs := make([]cluster.DocVector, 0, len(files))
	for path, f := range files {
		vec := meanChunkVector(d.VI, f.ChunkIDs)
		if vec == nil {
			continue
		}
		docs = append(docs, cluster.DocVector{Path: path, Vector: vec})
	}

	var prev cluster.State
	_ = getAuxGob(d.VI, "cluster", &prev)

	var state cluster.State
	if opts.SingleFile == "" || len(prev.Centroids) == 0 {
		state = cluster.Run(docs)
	} else {
		var target *cluster.DocVector
		for i := range docs {
			if docs[i].Path == opts.SingleFile {
				target = &docs[i]
				break
			}
		}
		if target == nil {
			state = prev
		} else {
			state = cluster.AssignNearest(prev, *target)
			if cluster.ShouldRebalance(state, opts.Config.Clustering.RebalanceThreshold) {
				state = cluster.Run(docs)
			}
		}
	}

	contents := make([]cluster.MemberContent, 0, len(files))
	for path, f := range files {
		var sb []byte
		for _, id := range f.ChunkIDs {
			if rec, ok := d.VI.Get(id); ok {
				sb = append(sb, []byte(rec.Content)...)
				sb = append(sb, ' ')
			}
		}
		contents = append(contents, cluster.MemberContent{Path: path, Content: string(sb)})
	}
	state.Labels = cluster.Label(state, contents)

	if err := setAuxGob(d.VI, "cluster", state); err != nil {
		slog.Warn("ingest: failed to persist cluster slot", slog.String("error", err.Error()))
	}
}

func meanChunkVector(vi *vectorindex.Index, chunkIDs []string) []float32 {
	var sum []float32
	var n int
	for _, id := range chunkIDs {
		rec, ok := vi.Get(id)
		if !ok || len(rec.Vector) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(rec.Vector))
		}
		for i, x := range rec.Vector {
			sum[i] += x
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum
}

func setAuxGob(vi *vectorindex.Index, slot string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	vi.SetAux(slot, buf.Bytes())
	return nil
}

func getAuxGob(vi *vectorindex.Index, slot string, v any) error {
	data, ok := vi.Aux(slot)
	if !ok {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
