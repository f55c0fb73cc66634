package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(IO, "save failed", cause)

	require.NotNil(t, wrapped)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
}

func TestError_Error_FormatsKindAndMessage(t *testing.T) {
	err := New(IndexCorrupted, "bad magic")
	assert.Equal(t, "[INDEX_CORRUPTED] bad magic", err.Error())
}

func TestError_Is_MatchesByKind(t *testing.T) {
	a := New(Fts, "segment missing")
	b := New(Fts, "different message")
	c := New(Watch, "unrelated")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWrap_NilCauseReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(IO, "whatever", nil))
}

func TestOf_ExtractsKindThroughWrapping(t *testing.T) {
	inner := New(LockTimeout, "writer busy")
	outer := fmtWrap(inner)

	kind, ok := Of(outer)
	require.True(t, ok)
	assert.Equal(t, LockTimeout, kind)
}

func TestWithDetail_ChainsAndStores(t *testing.T) {
	err := New(Config, "bad dimensions").WithDetail("expected", "768").WithDetail("got", "384")
	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "384", err.Details["got"])
}

// fmtWrap simulates a caller wrapping our error with fmt.Errorf("%w", ...).
func fmtWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "context: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
