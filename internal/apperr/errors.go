// Package apperr defines the typed errors that narrata surfaces to callers.
//
// Every user-visible failure is an [*Error] carrying a machine-readable [Kind]
// and a human-readable remediation hint. Kinds are grouped into categories
// ([Category]) that decide how the pipeline propagates them: validation and
// authorization errors short-circuit before any external call, storage and
// engine errors are terminal, embedding and metering errors are logged and
// swallowed.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error identifier returned to API clients.
type Kind string

const (
	KindUnsupportedType       Kind = "unsupported_type"
	KindFileTooLarge          Kind = "file_too_large"
	KindTooFewFiles           Kind = "too_few_files"
	KindTooManyFiles          Kind = "too_many_files"
	KindTooShort              Kind = "too_short"
	KindTooLong               Kind = "too_long"
	KindUnreadableAudio       Kind = "unreadable_audio"
	KindInvalidRequest        Kind = "invalid_request"
	KindUnauthenticated       Kind = "unauthenticated"
	KindForbidden             Kind = "forbidden"
	KindNotFound              Kind = "not_found"
	KindStorage               Kind = "storage_error"
	KindEmbeddingUnavailable  Kind = "embedding_unavailable"
	KindInsufficientReference Kind = "insufficient_reference"
	KindEngine                Kind = "engine_error"
	KindMetering              Kind = "metering_error"
	KindRateLimited           Kind = "rate_limited"
	KindInternal              Kind = "internal_error"
)

// Category groups kinds by propagation policy.
type Category string

const (
	CategoryValidation           Category = "validation"
	CategoryAuthorization        Category = "authorization"
	CategoryStorage              Category = "storage"
	CategoryEmbeddingUnavailable Category = "embedding_unavailable"
	CategoryReferenceDownload    Category = "reference_download"
	CategoryEngine               Category = "engine"
	CategoryMetering             Category = "metering"
	CategoryInternal             Category = "internal"
)

type kindInfo struct {
	category Category
	status   int
	hint     string
}

var kinds = map[Kind]kindInfo{
	KindUnsupportedType: {CategoryValidation, http.StatusUnsupportedMediaType,
		"upload WAV or MP3 recordings"},
	KindFileTooLarge: {CategoryValidation, http.StatusRequestEntityTooLarge,
		"trim or re-encode the recording so each file stays under the size limit"},
	KindTooFewFiles: {CategoryValidation, http.StatusBadRequest,
		"record a second sample of 20–50 seconds"},
	KindTooManyFiles: {CategoryValidation, http.StatusBadRequest,
		"upload at most 3 samples"},
	KindTooShort: {CategoryValidation, http.StatusBadRequest,
		"record samples of at least 20 seconds of continuous speech"},
	KindTooLong: {CategoryValidation, http.StatusBadRequest,
		"trim samples to at most 50 seconds"},
	KindUnreadableAudio: {CategoryValidation, http.StatusBadRequest,
		"re-export the recording as a standard WAV or MP3 file"},
	KindInvalidRequest: {CategoryValidation, http.StatusBadRequest,
		"check the request fields and try again"},
	KindUnauthenticated: {CategoryAuthorization, http.StatusUnauthorized,
		"sign in and retry"},
	KindForbidden: {CategoryAuthorization, http.StatusForbidden,
		"only the owner of a voice profile can use or delete it"},
	KindNotFound: {CategoryAuthorization, http.StatusNotFound,
		"check the voice profile id"},
	KindStorage: {CategoryStorage, http.StatusBadGateway,
		"storage is temporarily unavailable; retry the upload in a moment"},
	KindEmbeddingUnavailable: {CategoryEmbeddingUnavailable, http.StatusServiceUnavailable,
		"similarity checks will use a coarser comparison"},
	KindInsufficientReference: {CategoryReferenceDownload, http.StatusBadGateway,
		"reference audio could not be loaded; retry or re-create the voice profile"},
	KindEngine: {CategoryEngine, http.StatusBadGateway,
		"the speech engine failed; retry the request"},
	KindMetering: {CategoryMetering, http.StatusOK,
		"usage will be reconciled later"},
	KindRateLimited: {CategoryValidation, http.StatusTooManyRequests,
		"slow down and retry in a few seconds"},
	KindInternal: {CategoryInternal, http.StatusInternalServerError,
		"retry later"},
}

// Category returns the propagation category of k.
func (k Kind) Category() Category {
	if info, ok := kinds[k]; ok {
		return info.category
	}
	return CategoryInternal
}

// HTTPStatus returns the HTTP status code used when k is surfaced over the API.
func (k Kind) HTTPStatus() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// DefaultHint returns the remediation hint used when no specific hint is set.
func (k Kind) DefaultHint() string {
	if info, ok := kinds[k]; ok {
		return info.hint
	}
	return kinds[KindInternal].hint
}

// Error is a typed, user-visible failure.
type Error struct {
	// Kind is the machine-readable error identifier.
	Kind Kind

	// Op names the operation that failed (e.g. "profile.create").
	Op string

	// Message is a short human-readable description.
	Message string

	// Hint tells the user how to fix the problem. Empty means Kind.DefaultHint.
	Hint string

	// Details lists per-item violations, e.g. one entry per rejected file.
	Details []Detail

	// Err is the underlying cause, if any. It is never shown to API clients.
	Err error
}

// Detail is a single item-level violation attached to an [*Error].
type Detail struct {
	Subject string `json:"subject"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RemediationHint returns Hint, falling back to the kind's default.
func (e *Error) RemediationHint() string {
	if e.Hint != "" {
		return e.Hint
	}
	return e.Kind.DefaultHint()
}

// New returns an [*Error] with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap returns an [*Error] wrapping err. If err already is (or wraps) an
// [*Error], that error is returned unchanged so the innermost kind wins.
// Wrap returns nil when err is nil.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithHint returns a copy of e with the hint replaced.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// KindOf returns the kind of the first [*Error] in err's chain, or
// [KindInternal] when there is none.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// IsKind reports whether err's chain contains an [*Error] of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
