package lexical

import "regexp"

var (
	codeFencePattern  = regexp.MustCompile("(?m)^```[a-zA-Z0-9_+-]*[ \\t]*$\\n?")
	inlineCodePattern = regexp.MustCompile("`([^`]*)`")
	mdLinkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
	wikiLinkPattern   = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	headingHashes     = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	emphasisPattern   = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)\1`)
)

// stripMarkdown removes formatting and link syntax before a chunk goes into
// the full-text index, keeping the human-readable text and code content a
// BM25 query should actually match against.
func stripMarkdown(text string) string {
	text = codeFencePattern.ReplaceAllString(text, "")
	text = inlineCodePattern.ReplaceAllString(text, "$1")
	text = mdLinkPattern.ReplaceAllString(text, "$1")
	text = wikiLinkPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := wikiLinkPattern.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		return sub[1]
	})
	text = headingHashes.ReplaceAllString(text, "")
	text = emphasisPattern.ReplaceAllString(text, "$2")
	return text
}
