// Package mdparse reads a single markdown file and degrades rather than
// fails: a malformed frontmatter block, an unparsable heading, or a broken
// link record never aborts ingestion of the rest of the file.
package mdparse

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
)

// Heading is a single heading event. Line is 1-based and counted within
// File.Body; the lines of a leading frontmatter block are not counted, so
// for a file with frontmatter it is not the line number in the file itself.
type Heading struct {
	Level int
	Text  string
	Line  int
}

// Link is a raw, unresolved link record. Path resolution against the full
// corpus happens later, in the link-graph builder.
type Link struct {
	Target   string
	Display  string
	Line     int
	Wikilink bool
}

// File is the transient, parsed representation of one markdown file.
type File struct {
	RelPath        string
	Body           string
	HasFrontmatter bool
	Frontmatter    jsonvalue.Value
	Headings       []Heading
	Links          []Link
	ContentHash    string
	Size           int64
	ModTime        int64 // seconds since epoch
}

var (
	headingPattern  = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*$`)
	mdLinkPattern   = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	wikiLinkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
)

// Parse parses raw file bytes into a File. It never returns an error for
// malformed markdown content; frontmatter, heading, and link extraction each
// degrade independently to their empty form.
func Parse(relPath string, data []byte, modTimeUnix int64) *File {
	hash := sha256.Sum256(data)

	f := &File{
		RelPath:     relPath,
		ContentHash: hex.EncodeToString(hash[:]),
		Size:        int64(len(data)),
		ModTime:     modTimeUnix,
	}

	content := string(data)
	body, frontmatter, hasFrontmatter := splitFrontmatter(content)
	f.Body = body
	f.HasFrontmatter = hasFrontmatter
	if hasFrontmatter {
		f.Frontmatter = parseFrontmatter(frontmatter)
	} else {
		f.Frontmatter = jsonvalue.Null()
	}

	f.Headings = extractHeadings(body)
	f.Links = extractLinks(body)

	return f
}

// splitFrontmatter separates a leading "---\n...\n---\n" block from the rest
// of the document. Returns the remaining body, the raw YAML text (without
// delimiters), and whether a valid block was found.
func splitFrontmatter(content string) (body, yamlText string, found bool) {
	if !strings.HasPrefix(content, "---\n") {
		return content, "", false
	}
	rest := content[len("---\n"):]
	// Find a line that is exactly "---" marking the closing delimiter.
	lines := strings.Split(rest, "\n")
	closeIdx := -1
	for i, line := range lines {
		if strings.TrimRight(line, "\r") == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return content, "", false
	}
	yamlText = strings.Join(lines[:closeIdx], "\n")
	body = strings.Join(lines[closeIdx+1:], "\n")
	return body, yamlText, true
}

// parseFrontmatter decodes the YAML block into a dynamic Value. A parse
// failure degrades to "no frontmatter" (jsonvalue.Null), never an error.
func parseFrontmatter(yamlText string) jsonvalue.Value {
	var raw any
	if err := yaml.Unmarshal([]byte(yamlText), &raw); err != nil {
		return jsonvalue.Null()
	}
	return fromYAML(raw)
}

// fromYAML converts yaml.v3's native decode shapes (map[string]any via
// Unmarshal into `any`) into the jsonvalue sum type.
func fromYAML(raw any) jsonvalue.Value {
	switch t := raw.(type) {
	case nil:
		return jsonvalue.Null()
	case bool:
		return jsonvalue.Bool(t)
	case int:
		return jsonvalue.Number(float64(t))
	case int64:
		return jsonvalue.Number(float64(t))
	case uint64:
		return jsonvalue.Number(float64(t))
	case float64:
		return jsonvalue.Number(t)
	case string:
		return jsonvalue.String(t)
	case []any:
		items := make([]jsonvalue.Value, len(t))
		for i, item := range t {
			items[i] = fromYAML(item)
		}
		return jsonvalue.List(items)
	case map[string]any:
		m := make(map[string]jsonvalue.Value, len(t))
		for k, v := range t {
			m[k] = fromYAML(v)
		}
		return jsonvalue.Map(m)
	default:
		// Unrecognized scalar shape; degrade to null rather than dropping
		// the whole frontmatter parse.
		return jsonvalue.Null()
	}
}

// extractHeadings walks the body line-by-line, recording each heading with
// its 1-based line number within body.
func extractHeadings(body string) []Heading {
	var headings []Heading
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		headings = append(headings, Heading{
			Level: len(m[1]),
			Text:  strings.TrimSpace(m[2]),
			Line:  i + 1,
		})
	}
	return headings
}

// extractLinks finds both standard markdown links and wikilinks, discarding
// external targets (http(s)://, mailto:, pure #anchor).
func extractLinks(body string) []Link {
	var links []Link
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lineNo := i + 1
		for _, m := range mdLinkPattern.FindAllStringSubmatch(line, -1) {
			display, target := m[1], strings.TrimSpace(m[2])
			if isExternal(target) {
				continue
			}
			links = append(links, Link{Target: target, Display: display, Line: lineNo})
		}
		for _, m := range wikiLinkPattern.FindAllStringSubmatch(line, -1) {
			target := strings.TrimSpace(m[1])
			display := strings.TrimSpace(m[2])
			if isExternal(target) {
				continue
			}
			links = append(links, Link{Target: target, Display: display, Line: lineNo, Wikilink: true})
		}
	}
	return links
}

func isExternal(target string) bool {
	switch {
	case strings.HasPrefix(target, "http://"),
		strings.HasPrefix(target, "https://"),
		strings.HasPrefix(target, "mailto:"):
		return true
	case strings.HasPrefix(target, "#"):
		return true
	default:
		return false
	}
}
