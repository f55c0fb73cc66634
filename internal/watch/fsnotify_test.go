package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/discover"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	disc, err := discover.NewDiscoverer()
	require.NoError(t, err)
	return New(disc, Options{DebounceWindow: 20 * time.Millisecond, EventBufferSize: 100})
}

func TestWatcher_DetectsMarkdownCreate(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, root)
	}()
	<-started
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("# A"), 0o644))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		found := false
		for _, e := range events {
			if e.Path == "a.md" {
				found = true
			}
		}
		require.True(t, found, "expected an event for a.md, got %+v", events)
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for create event")
	}

	require.NoError(t, w.Stop())
}

func TestWatcher_IgnoresNonMarkdownFiles(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, root)
	}()
	<-started
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	select {
	case events := <-w.Events():
		t.Fatalf("expected no events for a non-markdown file, got %+v", events)
	case <-time.After(400 * time.Millisecond):
	}

	require.NoError(t, w.Stop())
}

func TestWatcher_IgnoresBuiltinExcludedDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	w := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, root)
	}()
	<-started
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config.md"), []byte("# x"), 0o644))

	select {
	case events := <-w.Events():
		t.Fatalf("expected no events from .git, got %+v", events)
	case <-time.After(400 * time.Millisecond):
	}

	require.NoError(t, w.Stop())
}
