package chunk

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/mdparse"
)

func parse(path, content string) *mdparse.File {
	return mdparse.Parse(path, []byte(content), 0)
}

func TestSplit_FlatLeafSections(t *testing.T) {
	f := parse("docs/api/auth.md", "# Auth\n## Tokens\nUse bearer.\n")
	chunks := Split(f, DefaultOptions())

	require.Len(t, chunks, 2)
	assert.Equal(t, "docs/api/auth.md#0", chunks[0].ID)
	assert.Equal(t, []string{"Auth"}, chunks[0].Breadcrumb)
	assert.Empty(t, chunks[0].Content)

	assert.Equal(t, "docs/api/auth.md#1", chunks[1].ID)
	assert.Equal(t, []string{"Auth", "Tokens"}, chunks[1].Breadcrumb)
	assert.Equal(t, "Use bearer.", chunks[1].Content)
}

func TestSplit_WorkedExampleProducesFiveChunksAcrossThreeFiles(t *testing.T) {
	intro := parse("intro.md", "# Intro\nInstall with foo.\n")
	auth := parse("auth.md", "# Auth\n## Tokens\nUse bearer.\n")
	ideas := parse("ideas.md", "---\ntags:\n  - rust\n---\n# Ideas\n## Vectors\nUse cosine.\n")

	total := len(Split(intro, DefaultOptions())) +
		len(Split(auth, DefaultOptions())) +
		len(Split(ideas, DefaultOptions()))

	assert.Equal(t, 5, total)
}

func TestSplit_PreambleIsChunkZeroWithEmptyBreadcrumb(t *testing.T) {
	f := parse("a.md", "Some preamble text.\n# First\nBody.\n")
	chunks := Split(f, DefaultOptions())

	require.Len(t, chunks, 2)
	assert.Empty(t, chunks[0].Breadcrumb)
	assert.Equal(t, "Some preamble text.", chunks[0].Content)
}

func TestSplit_NoHeadingsYieldsSingleChunk(t *testing.T) {
	f := parse("a.md", "Just a paragraph, no headings at all.\n")
	chunks := Split(f, DefaultOptions())

	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Breadcrumb)
	assert.Equal(t, "Just a paragraph, no headings at all.", chunks[0].Content)
}

func TestSplit_FrontmatterOnlyNoBodyYieldsOneEmptyChunk(t *testing.T) {
	f := parse("a.md", "---\ntitle: x\n---\n")
	chunks := Split(f, DefaultOptions())

	require.Len(t, chunks, 1)
	assert.Equal(t, "a.md#0", chunks[0].ID)
	assert.Empty(t, chunks[0].Content)
}

func TestSplit_DeepNestingBreadcrumbPopsCorrectly(t *testing.T) {
	content := "# A\n## B\n### C\nDeep.\n## D\nShallow again.\n"
	f := parse("a.md", content)
	chunks := Split(f, DefaultOptions())

	require.Len(t, chunks, 4)
	assert.Equal(t, []string{"A"}, chunks[0].Breadcrumb)
	assert.Equal(t, []string{"A", "B"}, chunks[1].Breadcrumb)
	assert.Equal(t, []string{"A", "B", "C"}, chunks[2].Breadcrumb)
	assert.Equal(t, "Deep.", chunks[2].Content)
	assert.Equal(t, []string{"A", "D"}, chunks[3].Breadcrumb)
	assert.Equal(t, "Shallow again.", chunks[3].Content)
}

func TestSplit_OversizedSectionSplitsWithOverlap(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = "word"
	}
	body := "# Big\n" + strings.Join(words, " ") + "\n"
	f := parse("a.md", body)

	chunks := Split(f, Options{MaxTokens: 30, OverlapTokens: 10})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, []string{"Big"}, c.Breadcrumb)
		assert.True(t, c.SubSplit)
		assert.Equal(t, "a.md#"+strconv.Itoa(i), c.ID)
	}
}
