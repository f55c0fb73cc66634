// Package watch is the filesystem watcher (C9): it turns raw fsnotify
// events into debounced, ignore-filtered FileEvents and drives the ingest
// pipeline's single-file path on create/modify and RemoveFile on delete.
// fsnotify is the primary backend; a polling fallback takes over if
// fsnotify fails to initialize (some container/NFS environments don't
// support inotify).
package watch

import "time"

// Operation identifies what happened to a watched path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpGitignoreChange fires when a .gitignore file itself changes,
	// since that can change which files the next ingest would have
	// discovered without any of their own contents changing.
	OpGitignoreChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one coalesced filesystem change, relative to the watched
// root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow coalesces rapid events on the same path before
	// they're emitted (§4.9 default: 300ms).
	DebounceWindow time.Duration
	// PollInterval is used only by the polling fallback.
	PollInterval time.Duration
	// EventBufferSize bounds the output channel.
	EventBufferSize int
	// IgnorePatterns are layered on top of the engine's built-in and
	// .gitignore rules, matching discover.Options.UserPatterns exactly.
	IgnorePatterns []string
	// IndexDir is excluded from watching, matching discover.Options.IndexDir.
	IndexDir string
}

// DefaultOptions returns the watcher's baseline tuning.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  300 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// WithDefaults fills zero-valued fields of o from DefaultOptions().
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
