// Package errs provides the structured error type shared across the engine.
// Every boundary error is tagged with a Kind from §7 of the design so
// callers can distinguish, e.g., a corrupted index from a missing one
// without parsing message strings.
package errs

import "fmt"

// Kind classifies an error for programmatic handling at the engine boundary.
type Kind string

const (
	Config              Kind = "CONFIG"
	IndexNotFound       Kind = "INDEX_NOT_FOUND"
	IndexCorrupted      Kind = "INDEX_CORRUPTED"
	EmbeddingProvider   Kind = "EMBEDDING_PROVIDER"
	MarkdownParse       Kind = "MARKDOWN_PARSE"
	IO                  Kind = "IO"
	Serialization       Kind = "SERIALIZATION"
	Watch               Kind = "WATCH"
	Fts                 Kind = "FTS"
	LockTimeout         Kind = "LOCK_TIMEOUT"
	ConfigAlreadyExists Kind = "CONFIG_ALREADY_EXISTS"
)

// Error is the engine's structured error type. It is never poisoned by a
// standard "error" comparison: callers should use Is/As or the Kind
// accessor rather than string matching.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
	// Retryable marks an error a caller may retry unchanged (a transient
	// network failure, a lock contended by another process) as opposed to
	// one that will keep failing until something about the input changes.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by Kind, so errors.Is(err, errs.New(errs.Fts, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRetryable sets the Retryable flag and returns the error for chaining.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// New creates a structured error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a structured error of the given kind around a cause. Returns
// a nil *Error if cause is nil; returned directly from a function whose
// result type is error, that nil pointer is a non-nil error value.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

// as is a tiny local errors.As to avoid importing "errors" just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Is reports whether err has the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
