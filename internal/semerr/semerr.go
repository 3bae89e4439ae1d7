// Package semerr defines the error Kinds surfaced by the semantic search
// subsystem (spec.md §7): a single exported error type carrying a Kind
// enum and a wrapped cause, so callers can branch with errors.Is/errors.As
// without a sentinel var per failure mode.
package semerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of semantic-search failure. Kinds are not Go
// type names — they are the stable vocabulary crossing the command surface.
type Kind string

const (
	KindDisabled           Kind = "disabled"
	KindEmptyQuery         Kind = "empty_query"
	KindModelMissing       Kind = "model_missing"
	KindModelCorrupt       Kind = "model_corrupt"
	KindModelOOM           Kind = "model_oom"
	KindAlreadyDownloading Kind = "already_downloading"
	KindDownloadFailed     Kind = "download_failed"
	KindDegenerateEmbedding Kind = "degenerate_embedding"
	KindStoreIO            Kind = "store_io"
	KindIndexOverflow      Kind = "index_overflow" // internal; should never reach a caller
	KindCancelled          Kind = "cancelled"
	KindModelUnavailable   Kind = "model_unavailable"
)

// Error is the single error type used across the semantic search subsystem.
type Error struct {
	Kind   Kind
	Reason string // optional human-readable detail, e.g. for DownloadFailed
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind. This lets
// callers write errors.Is(err, semerr.New(semerr.KindEmptyQuery, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given Kind with an optional reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an Error of the given Kind wrapping a lower-level cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var se *Error
	if !errors.As(err, &se) {
		return "", false
	}
	return se.Kind, true
}
