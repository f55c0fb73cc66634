package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxConcurrentBatches bounds how many embedding requests are in flight at
// once, regardless of how many chunks need embedding (§4.4). Most providers
// rate-limit per connection; four concurrent batches keeps throughput up
// without tripping provider-side limits.
const MaxConcurrentBatches = 4

// Item is one unit of text to embed, identified by its chunk ID. BatchEmbed
// itself does not deduplicate — hash-skip partitioning happens upstream, in
// the ingest pipeline, which already knows which chunks are unchanged.
type Item struct {
	ChunkID string
	Text    string
}

// Result pairs an embedded chunk ID back with its vector.
type Result struct {
	ChunkID string
	Vector  []float32
}

// BatchEmbed splits items into batches of batchSize and runs up to
// MaxConcurrentBatches of them concurrently through provider. Results
// preserve the input order regardless of completion order. The first error
// from any batch cancels the remaining ones and is returned.
func BatchEmbed(ctx context.Context, provider Provider, items []Item, batchSize int) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	type batch struct {
		offset int
		items  []Item
	}

	var batches []batch
	for offset := 0; offset < len(items); offset += batchSize {
		end := offset + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, batch{offset: offset, items: items[offset:end]})
	}

	results := make([]Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentBatches)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			texts := make([]string, len(b.items))
			for i, it := range b.items {
				texts[i] = it.Text
			}

			vectors, err := provider.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}

			for i, v := range vectors {
				results[b.offset+i] = Result{ChunkID: b.items[i].ChunkID, Vector: v}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
