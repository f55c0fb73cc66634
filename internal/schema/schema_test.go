package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/mdvdb/internal/jsonvalue"
)

func frontmatter(fields map[string]jsonvalue.Value) jsonvalue.Value {
	return jsonvalue.Map(fields)
}

func TestInfer_ClassifiesEachScalarType(t *testing.T) {
	fms := []jsonvalue.Value{
		frontmatter(map[string]jsonvalue.Value{
			"title":     jsonvalue.String("Ideas"),
			"count":     jsonvalue.Number(3),
			"published": jsonvalue.Bool(true),
			"tags":      jsonvalue.List([]jsonvalue.Value{jsonvalue.String("rust")}),
			"created":   jsonvalue.String("2024-01-02"),
		}),
	}

	s := Infer(fms)
	require.Contains(t, s.Fields, "title")
	assert.Equal(t, TypeString, s.Fields["title"].Type)
	assert.Equal(t, TypeNumber, s.Fields["count"].Type)
	assert.Equal(t, TypeBoolean, s.Fields["published"].Type)
	assert.Equal(t, TypeList, s.Fields["tags"].Type)
	assert.Equal(t, TypeDate, s.Fields["created"].Type)
}

func TestInfer_MixedTypeAcrossFiles(t *testing.T) {
	fms := []jsonvalue.Value{
		frontmatter(map[string]jsonvalue.Value{"tags": jsonvalue.String("rust")}),
		frontmatter(map[string]jsonvalue.Value{"tags": jsonvalue.List([]jsonvalue.Value{jsonvalue.String("go")})}),
	}

	s := Infer(fms)
	assert.Equal(t, TypeMixed, s.Fields["tags"].Type)
	assert.Equal(t, 2, s.Fields["tags"].Count)
}

func TestInfer_NonMapFrontmatterContributesNothing(t *testing.T) {
	s := Infer([]jsonvalue.Value{jsonvalue.Null()})
	assert.Empty(t, s.Fields)
}

func TestInfer_SamplesCappedAtTwenty(t *testing.T) {
	var fms []jsonvalue.Value
	for i := 0; i < 30; i++ {
		fms = append(fms, frontmatter(map[string]jsonvalue.Value{
			"tag": jsonvalue.String(string(rune('a' + i))),
		}))
	}
	s := Infer(fms)
	assert.LessOrEqual(t, len(s.Fields["tag"].Samples), maxSamples)
}

func TestMerge_OverlayOverridesTypeAndAddsDescription(t *testing.T) {
	s := Infer([]jsonvalue.Value{frontmatter(map[string]jsonvalue.Value{"status": jsonvalue.String("draft")})})

	merged := Merge(s, map[string]Overlay{
		"status": {Description: "publication status", Required: true, AllowedValues: []string{"draft", "final"}},
	})

	require.Contains(t, merged, "status")
	assert.Equal(t, "publication status", merged["status"].Description)
	assert.True(t, merged["status"].Required)
	assert.Equal(t, TypeString, merged["status"].Type)
}

func TestMerge_OverlayForAbsentFieldIsDropped(t *testing.T) {
	s := Infer([]jsonvalue.Value{frontmatter(map[string]jsonvalue.Value{"title": jsonvalue.String("x")})})
	merged := Merge(s, map[string]Overlay{"ghost": {Description: "no such field"}})
	_, ok := merged["ghost"]
	assert.False(t, ok)
}
