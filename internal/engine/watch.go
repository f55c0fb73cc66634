package engine

import (
	"context"
	"log/slog"

	"github.com/kestrel-dev/mdvdb/internal/ingest"
	"github.com/kestrel-dev/mdvdb/internal/watch"
)

// Watch starts a filesystem watcher over the engine's project root and
// drives the ingest pipeline from its events until ctx is cancelled (§4.9):
// a create/modify re-ingests just that file; a delete removes it from both
// indexes; a .gitignore change invalidates the discovery cache and runs a
// full-tree reconcile, since the set of indexed files may have changed
// without any of their own content changing.
func (e *Engine) Watch(ctx context.Context, opts watch.Options) error {
	opts.IgnorePatterns = e.cfg.Paths.IgnorePatterns
	opts.IndexDir = e.cfg.Paths.IndexDir
	opts.DebounceWindow = e.cfg.Watch.DebounceDuration()

	w := watch.New(e.dsc, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(ctx, e.projectRoot)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return ctx.Err()
		case err, ok := <-w.Errors():
			if !ok {
				return <-errCh
			}
			slog.Warn("engine: watcher error", slog.String("error", err.Error()))
		case events, ok := <-w.Events():
			if !ok {
				return <-errCh
			}
			e.handleWatchEvents(ctx, events)
		}
	}
}

func (e *Engine) handleWatchEvents(ctx context.Context, events []watch.FileEvent) {
	for _, ev := range events {
		if ev.IsDir {
			continue
		}

		switch ev.Operation {
		case watch.OpGitignoreChange:
			if _, err := e.Ingest(ctx, ingest.Options{}); err != nil {
				slog.Warn("engine: gitignore-triggered reconcile failed", slog.String("error", err.Error()))
			}
		case watch.OpDelete, watch.OpRename:
			// fsnotify reports Rename on the old name only; the new name
			// (if any) arrives as its own Create event, so a rename is
			// handled as a delete of the stale path (§4.9 delete-then-create).
			if err := e.RemoveFile(ctx, ev.Path); err != nil {
				slog.Warn("engine: failed to remove renamed-away file", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		case watch.OpCreate, watch.OpModify:
			if _, err := e.Ingest(ctx, ingest.Options{SingleFile: ev.Path}); err != nil {
				slog.Warn("engine: failed to ingest changed file", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		}
	}
}
