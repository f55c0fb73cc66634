// Package chunk splits a parsed markdown file into retrieval-sized pieces.
// The primary split follows the heading outline; any section that is still
// too large for the embedding provider is split again on a token window with
// overlap. Every chunk carries a breadcrumb (the stack of ancestor heading
// titles) and a stable, content-independent ID.
package chunk

import (
	"fmt"
	"strings"

	"github.com/kestrel-dev/mdvdb/internal/mdparse"
)

// Chunk is one retrieval unit produced from a markdown file.
type Chunk struct {
	ID         string
	SourcePath string
	Breadcrumb []string
	Content    string
	StartLine  int
	EndLine    int
	Index      int
	SubSplit   bool
}

// Options controls the secondary, token-windowed split.
type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultOptions mirrors the engine defaults (§4.3): a 512-token ceiling per
// chunk with 64 tokens of overlap across a forced split.
func DefaultOptions() Options {
	return Options{MaxTokens: 512, OverlapTokens: 64}
}

// Split turns a parsed file into an ordered list of chunks. Chunk IDs are
// "<rel_path>#<index>", index assigned in document order across both the
// primary heading split and any secondary token split.
func Split(f *mdparse.File, opts Options) []Chunk {
	sections := splitSections(f.Body, f.Headings)

	var out []Chunk
	idx := 0
	for _, sec := range sections {
		pieces := splitSection(sec, opts)
		for _, p := range pieces {
			out = append(out, Chunk{
				ID:         fmt.Sprintf("%s#%d", f.RelPath, idx),
				SourcePath: f.RelPath,
				Breadcrumb: sec.breadcrumb,
				Content:    p.text,
				StartLine:  p.startLine,
				EndLine:    p.endLine,
				Index:      idx,
				SubSplit:   p.subSplit,
			})
			idx++
		}
	}

	// A file with only frontmatter and no body, or a body with no content at
	// all, still yields exactly one (empty-content) chunk.
	if len(out) == 0 {
		out = append(out, Chunk{
			ID:         fmt.Sprintf("%s#0", f.RelPath),
			SourcePath: f.RelPath,
			Breadcrumb: nil,
			Content:    "",
			StartLine:  0,
			EndLine:    0,
			Index:      0,
		})
	}

	return out
}

type section struct {
	breadcrumb []string
	text       string
	startLine  int
	endLine    int
}

// splitSections walks the heading stream, maintaining a breadcrumb stack
// where a heading at level N pops entries of level >= N before pushing
// itself. Each section's content runs from its heading (exclusive) to the
// very next heading at any level (the flat, leaf-level split worked out by
// the design's own example: "# Auth" followed immediately by "## Tokens"
// yields an empty "Auth" section and a separate "Tokens" section, not one
// section nesting the other's text).
func splitSections(body string, headings []mdparse.Heading) []section {
	lines := strings.Split(body, "\n")

	if len(headings) == 0 {
		return []section{{
			breadcrumb: nil,
			text:       strings.TrimSpace(body),
			startLine:  1,
			endLine:    len(lines),
		}}
	}

	var sections []section
	stack := make([]string, 6)

	// Preamble: everything before the first heading.
	if headings[0].Line > 1 {
		pre := strings.Join(lines[:headings[0].Line-1], "\n")
		if strings.TrimSpace(pre) != "" {
			sections = append(sections, section{
				breadcrumb: nil,
				text:       strings.TrimSpace(pre),
				startLine:  1,
				endLine:    headings[0].Line - 1,
			})
		}
	}

	for i, h := range headings {
		for l := h.Level; l <= len(stack); l++ {
			stack[l-1] = ""
		}
		stack[h.Level-1] = h.Text

		breadcrumb := make([]string, 0, h.Level)
		for _, t := range stack[:h.Level] {
			if t != "" {
				breadcrumb = append(breadcrumb, t)
			}
		}

		start := h.Line + 1
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].Line - 1
		}

		var text string
		if start <= end {
			text = strings.TrimSpace(strings.Join(lines[start-1:end], "\n"))
		}

		sections = append(sections, section{
			breadcrumb: breadcrumb,
			text:       text,
			startLine:  h.Line,
			endLine:    end,
		})
	}

	return sections
}

type piece struct {
	text      string
	startLine int
	endLine   int
	subSplit  bool
}

// splitSection applies the secondary token-window split when a section
// exceeds MaxTokens. The window slides forward by (MaxTokens - OverlapTokens)
// tokens each step so consecutive pieces share a deterministic overlap.
func splitSection(sec section, opts Options) []piece {
	tokens := tokenize(sec.text)
	if len(tokens) <= opts.MaxTokens || opts.MaxTokens <= 0 {
		return []piece{{text: sec.text, startLine: sec.startLine, endLine: sec.endLine}}
	}

	stride := opts.MaxTokens - opts.OverlapTokens
	if stride <= 0 {
		stride = opts.MaxTokens
	}

	lineSpan := sec.endLine - sec.startLine + 1
	if lineSpan < 1 {
		lineSpan = 1
	}

	var pieces []piece
	for start := 0; start < len(tokens); start += stride {
		end := start + opts.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		startLine := sec.startLine + (start*lineSpan)/len(tokens)
		endLine := sec.startLine + (end*lineSpan)/len(tokens)
		if endLine > sec.endLine {
			endLine = sec.endLine
		}

		pieces = append(pieces, piece{
			text:      detokenize(tokens[start:end]),
			startLine: startLine,
			endLine:   endLine,
			subSplit:  true,
		})

		if end == len(tokens) {
			break
		}
	}

	return pieces
}

// tokenize approximates the embedding provider's byte-pair tokenizer with a
// whitespace split. See DESIGN.md for why no BPE library from the reference
// corpus is wired in here.
func tokenize(text string) []string {
	return strings.Fields(text)
}

func detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}
