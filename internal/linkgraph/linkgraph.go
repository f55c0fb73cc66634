// Package linkgraph resolves each file's raw markdown/wikilink targets
// into normalized relative paths and stores the forward adjacency (§4.11).
// Backlinks are never stored; they are a lookup over the forward map
// computed on demand.
package linkgraph

import (
	"path"
	"sort"
	"strings"

	"github.com/kestrel-dev/mdvdb/internal/mdparse"
)

// Graph is the persisted, forward-only link slot: source path -> sorted,
// deduplicated target paths, each a project-root-relative ".md" path that
// was confirmed to resolve to a real file at build time.
type Graph struct {
	Forward map[string][]string
}

// RawLinks pairs a source file's relative path with its unresolved link
// records, the input Build needs for every file in the corpus.
type RawLinks struct {
	SourcePath string
	Links      []mdparse.Link
}

// Build resolves every file's raw links against the full set of known
// file paths, producing the forward adjacency map. A link target that
// doesn't resolve to a known file (a typo, an external doc, a path into a
// directory that was never indexed) is silently dropped: the graph only
// ever claims edges it can stand behind.
func Build(files []RawLinks, knownPaths map[string]bool) Graph {
	forward := make(map[string][]string, len(files))

	for _, f := range files {
		seen := make(map[string]bool)
		var targets []string

		for _, link := range f.Links {
			resolved, ok := resolve(f.SourcePath, link, knownPaths)
			if !ok || resolved == f.SourcePath || seen[resolved] {
				continue
			}
			seen[resolved] = true
			targets = append(targets, resolved)
		}

		sort.Strings(targets)
		forward[f.SourcePath] = targets
	}

	return Graph{Forward: forward}
}

// resolve normalizes one raw link into a project-root-relative path,
// relative to the source file's own directory (§4.11: "resolving relative
// targets against each source's directory, normalizing ./ and .., and
// filtering self-links; wikilinks resolve to <target>.md").
func resolve(sourcePath string, link mdparse.Link, knownPaths map[string]bool) (string, bool) {
	target := link.Target
	if link.Wikilink && !strings.HasSuffix(target, ".md") {
		target += ".md"
	}

	target = strings.TrimPrefix(target, "./")
	dir := path.Dir(sourcePath)
	var candidate string
	if dir == "." {
		candidate = path.Clean(target)
	} else {
		candidate = path.Clean(path.Join(dir, target))
	}

	if knownPaths[candidate] {
		return candidate, true
	}
	return "", false
}

// Outgoing returns the resolved link targets from a source file, or nil if
// it has none.
func (g Graph) Outgoing(sourcePath string) []string {
	return g.Forward[sourcePath]
}

// Backlinks computes, on demand, every file whose forward links include
// target. Derived rather than stored: the forward map is the only
// persisted state (§4.11).
func (g Graph) Backlinks(target string) []string {
	var out []string
	for src, targets := range g.Forward {
		for _, t := range targets {
			if t == target {
				out = append(out, src)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Neighbors returns the union of a source path's outgoing links and its
// backlinks, used by the query pipeline's link-boost pass (§4.8).
func (g Graph) Neighbors(sourcePath string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range g.Outgoing(sourcePath) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, s := range g.Backlinks(sourcePath) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
