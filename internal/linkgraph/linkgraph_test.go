package linkgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/mdparse"
)

func TestBuild_ResolvesRelativeAndWikilinks(t *testing.T) {
	known := map[string]bool{
		"docs/intro.md":     true,
		"docs/api/auth.md":  true,
		"notes/ideas.md":    true,
	}

	files := []RawLinks{
		{
			SourcePath: "docs/intro.md",
			Links: []mdparse.Link{
				{Target: "api/auth.md"},
				{Target: "ideas", Wikilink: true},
				{Target: "intro.md"}, // self-link, excluded
				{Target: "nowhere.md"},
			},
		},
	}
	// wikilink "ideas" from docs/intro.md resolves to docs/ideas.md, which
	// is not a known file, so it should be dropped; exercise a second file
	// with a wikilink that does resolve.
	files = append(files, RawLinks{
		SourcePath: "docs/api/auth.md",
		Links: []mdparse.Link{
			{Target: "../../notes/ideas", Wikilink: true},
		},
	})

	g := Build(files, known)

	require.ElementsMatch(t, []string{"docs/api/auth.md"}, g.Outgoing("docs/intro.md"))
	require.ElementsMatch(t, []string{"notes/ideas.md"}, g.Outgoing("docs/api/auth.md"))
}

func TestBuild_DedupesAndSorts(t *testing.T) {
	known := map[string]bool{"docs/a.md": true, "docs/b.md": true}
	files := []RawLinks{
		{
			SourcePath: "docs/a.md",
			Links: []mdparse.Link{
				{Target: "b.md"},
				{Target: "b.md"},
				{Target: "./b.md"},
			},
		},
	}

	g := Build(files, known)
	assert.Equal(t, []string{"docs/b.md"}, g.Outgoing("docs/a.md"))
}

func TestBacklinksAndNeighbors(t *testing.T) {
	known := map[string]bool{"a.md": true, "b.md": true, "c.md": true}
	files := []RawLinks{
		{SourcePath: "a.md", Links: []mdparse.Link{{Target: "b.md"}}},
		{SourcePath: "c.md", Links: []mdparse.Link{{Target: "b.md"}}},
		{SourcePath: "b.md"},
	}

	g := Build(files, known)

	assert.Equal(t, []string{"a.md", "c.md"}, g.Backlinks("b.md"))
	assert.ElementsMatch(t, []string{"a.md", "c.md"}, g.Neighbors("b.md"))
	assert.Empty(t, g.Outgoing("b.md"))
}

func TestBuild_UnresolvedLinkDropped(t *testing.T) {
	known := map[string]bool{"a.md": true}
	files := []RawLinks{
		{SourcePath: "a.md", Links: []mdparse.Link{{Target: "missing.md"}}},
	}
	g := Build(files, known)
	assert.Empty(t, g.Outgoing("a.md"))
}
