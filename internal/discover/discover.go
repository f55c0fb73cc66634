// Package discover walks a source tree for markdown files, applying a
// built-in non-overridable ignore set, any .gitignore files found along
// the way, and the caller's own glob patterns. Per-directory .gitignore
// matchers are cached in a bounded LRU so a watcher that re-discovers the
// same tree on every file event doesn't reparse every ancestor .gitignore
// on every pass.
package discover

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrel-dev/mdvdb/internal/gitignore"
)

// gitignoreCacheSize bounds the per-directory matcher cache so a very deep
// or wide tree can't grow it without limit across a long-running watch.
const gitignoreCacheSize = 1000

// builtinIgnores can never be re-included by a user pattern: version
// control metadata, build output, and editor/IDE directories are never
// markdown sources no matter what a .gitignore or user config says (§4.1).
var builtinIgnores = []string{
	".git/",
	".mdvdb/",
	"node_modules/",
	"target/",
	"dist/",
	"build/",
	"out/",
	".vscode/",
	".idea/",
	".cursor/",
	".claude/",
	".obsidian/",
	"__pycache__/",
	".next/",
	".nuxt/",
	".svelte-kit/",
}

// Options controls one discovery pass.
type Options struct {
	// Root is the directory to walk.
	Root string
	// UserPatterns are additional gitignore-syntax globs from config,
	// layered on top of any .gitignore files encountered.
	UserPatterns []string
	// IndexDir, if set, is excluded even when it lives outside the
	// built-in ".mdvdb/" name (a caller-configured index directory).
	IndexDir string
}

// File is one discovered markdown file, relative to Root.
type File struct {
	RelPath string
	AbsPath string
	Size    int64
	ModTime int64
}

// Discoverer owns the per-directory gitignore matcher cache across
// repeated discovery passes (e.g. one per watcher event). Discovering the
// same tree twice in a row reuses every unchanged directory's matcher
// instead of re-reading and re-compiling it.
type Discoverer struct {
	cache   *lru.Cache[string, *gitignore.Matcher]
	cacheMu sync.RWMutex
}

// NewDiscoverer builds a Discoverer with a bounded gitignore matcher cache.
func NewDiscoverer() (*Discoverer, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, err
	}
	return &Discoverer{cache: cache}, nil
}

// InvalidateCache drops every cached gitignore matcher, forcing the next
// Discover call to re-read every .gitignore from disk. Call this when a
// .gitignore file itself changes.
func (d *Discoverer) InvalidateCache() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.cache.Purge()
}

// defaultDiscoverer backs the package-level Discover convenience function.
var defaultDiscoverer = mustNewDiscoverer()

func mustNewDiscoverer() *Discoverer {
	d, err := NewDiscoverer()
	if err != nil {
		panic(err)
	}
	return d
}

// Discover walks Root using a process-wide default Discoverer. Callers that
// repeatedly discover the same tree (the watcher) should construct their
// own Discoverer instead, so cache invalidation on .gitignore changes stays
// scoped to them.
func Discover(opts Options) ([]File, error) {
	return defaultDiscoverer.Discover(opts)
}

// Discover walks Root and returns every non-ignored ".md" file, sorted
// lexicographically by relative path. A missing root directory or a
// per-entry stat/read error is logged and skipped rather than aborting the
// whole walk: one unreadable subtree should not stop indexing the rest of
// the corpus.
func (d *Discoverer) Discover(opts Options) ([]File, error) {
	if _, err := os.Stat(opts.Root); os.IsNotExist(err) {
		slog.Warn("discover: root does not exist", slog.String("root", opts.Root))
		return nil, nil
	}

	global := buildGlobalMatcher(opts)
	var files []File

	err := filepath.Walk(opts.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("discover: skipping unreadable entry", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		rel, relErr := filepath.Rel(opts.Root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		isRoot := rel == "."

		if info.IsDir() {
			if !isRoot && d.matches(global, opts.Root, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if isRoot {
			return nil
		}
		if d.matches(global, opts.Root, rel, false) {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(info.Name()), ".md") {
			return nil
		}

		files = append(files, File{
			RelPath: rel,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func buildGlobalMatcher(opts Options) *gitignore.Matcher {
	global := gitignore.New()
	// User patterns go in first so that a later built-in rule always wins
	// the matcher's last-match-wins ordering: a "!node_modules/" from config
	// cannot re-include a built-in ignore.
	for _, p := range opts.UserPatterns {
		global.AddPattern(p)
	}
	for _, p := range builtinIgnores {
		global.AddPattern(p)
	}
	if opts.IndexDir != "" {
		rel, err := filepath.Rel(opts.Root, opts.IndexDir)
		if err == nil && !strings.HasPrefix(rel, "..") {
			global.AddPattern(filepath.ToSlash(rel) + "/")
		}
	}
	return global
}

func (d *Discoverer) matches(global *gitignore.Matcher, root, rel string, isDir bool) bool {
	return global.Match(rel, isDir) || d.matchesAncestorGitignore(root, rel, isDir)
}

// ShouldIndex reports whether a single relative path (as the watcher sees
// one, without a full tree walk) would be picked up by Discover: not
// matched by the built-in set, any .gitignore, or opts.UserPatterns, and
// (for files) suffixed ".md". The watcher uses this to filter individual
// fsnotify events against the exact same rules a full discovery pass
// would apply, so a watched file never drifts from what a restart's
// initial ingest would have indexed.
func (d *Discoverer) ShouldIndex(opts Options, relPath string, isDir bool) bool {
	rel := filepath.ToSlash(relPath)
	if rel == "." || rel == "" {
		return false
	}
	global := buildGlobalMatcher(opts)
	if d.matches(global, opts.Root, rel, isDir) {
		return false
	}
	if isDir {
		return true
	}
	return strings.HasSuffix(strings.ToLower(filepath.Base(rel)), ".md")
}

// matchesAncestorGitignore checks relPath (slash-separated, relative to
// root) against every ancestor directory's own .gitignore, from root down
// to relPath's immediate parent, mirroring how git itself layers nested
// ignore files.
func (d *Discoverer) matchesAncestorGitignore(root, relPath string, isDir bool) bool {
	dir := "."
	if parent := filepath.Dir(relPath); parent != "." {
		dir = parent
	}

	var ancestors []string
	for cur := dir; ; {
		ancestors = append(ancestors, cur)
		if cur == "." {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	for i := len(ancestors) - 1; i >= 0; i-- {
		relDir := ancestors[i]
		absDir := root
		if relDir != "." {
			absDir = filepath.Join(root, relDir)
		}
		matcher := d.getGitignoreMatcher(absDir)
		if matcher == nil {
			continue
		}
		base := relDir
		if base == "." {
			base = ""
		}
		checkPath := relPath
		if base != "" {
			checkPath = strings.TrimPrefix(relPath, base+"/")
		}
		if matcher.Match(checkPath, isDir) {
			return true
		}
	}
	return false
}

// getGitignoreMatcher returns the cached matcher for absDir's own
// .gitignore (not its ancestors'), compiling and caching it on first use.
// Returns nil if the directory has no .gitignore.
func (d *Discoverer) getGitignoreMatcher(absDir string) *gitignore.Matcher {
	d.cacheMu.RLock()
	m, ok := d.cache.Get(absDir)
	d.cacheMu.RUnlock()
	if ok {
		return m
	}

	giPath := filepath.Join(absDir, ".gitignore")
	if _, err := os.Stat(giPath); os.IsNotExist(err) {
		return nil
	}

	m = gitignore.New()
	if err := m.AddFromFile(giPath, ""); err != nil {
		slog.Warn("discover: failed to read .gitignore", slog.String("path", giPath), slog.String("error", err.Error()))
		return nil
	}

	d.cacheMu.Lock()
	d.cache.Add(absDir, m)
	d.cacheMu.Unlock()

	return m
}
