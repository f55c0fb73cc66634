package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_DeterministicAcrossCalls(t *testing.T) {
	p := NewMockProvider(32)

	a, err := p.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	b, err := p.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a[0], 32)
}

func TestMockProvider_DifferentTextDifferentVector(t *testing.T) {
	p := NewMockProvider(32)

	out, err := p.EmbedBatch(context.Background(), []string{"alpha", "beta gamma"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0], out[1])
}

func TestMockProvider_DimensionsAndName(t *testing.T) {
	p := NewMockProvider(16)
	assert.Equal(t, 16, p.Dimensions())
	assert.Equal(t, "mock", p.Name())
}
