package watch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// poller watches by periodically rescanning the tree, for environments
// where fsnotify can't initialize (some containers and network
// filesystems don't support inotify).
type poller struct {
	interval time.Duration
	rootPath string

	mu      sync.Mutex
	state   map[string]snapshot
	stopped bool

	events chan FileEvent
	errors chan error
	stopCh chan struct{}
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPoller(interval time.Duration) *poller {
	return &poller{
		interval: interval,
		state:    make(map[string]snapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

func (p *poller) Start(ctx context.Context, root string) error {
	p.rootPath = root
	if err := p.scan(); err != nil {
		return fmt.Errorf("initial poll scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

func (p *poller) scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.rootPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		p.state[filepath.ToSlash(rel)] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
}

func (p *poller) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]snapshot)
	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.rootPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap := snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		current[rel] = snap

		if prev, ok := p.state[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: d.IsDir(), Timestamp: time.Now()})
		} else if prev.modTime != snap.modTime || prev.size != snap.size {
			p.emit(FileEvent{Path: rel, Operation: OpModify, IsDir: d.IsDir(), Timestamp: time.Now()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("poll scan: %w", err)
	}

	for rel, snap := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: time.Now()})
		}
	}

	p.state = current
	return nil
}

func (p *poller) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
	}
}

func (p *poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

func (p *poller) Events() <-chan FileEvent { return p.events }
func (p *poller) Errors() <-chan error     { return p.errors }
