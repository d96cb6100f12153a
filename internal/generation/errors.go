package generation

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The kind decides whether a failure may be
// retried and how it is surfaced to callers.
type Kind string

// Error kinds.
const (
	KindInvalidRequest          Kind = "INVALID_REQUEST"
	KindGeneratorNotFound       Kind = "GENERATOR_NOT_FOUND"
	KindTimeout                 Kind = "GENERATION_TIMEOUT"
	KindGenerationFailed        Kind = "GENERATION_FAILED"
	KindUpstream                Kind = "UPSTREAM_SERVICE_ERROR"
	KindLowConfidence           Kind = "LOW_CONFIDENCE"
	KindContentValidationFailed Kind = "CONTENT_VALIDATION_FAILED"
	KindCancelled               Kind = "CANCELLED"
	KindCache                   Kind = "CACHE_ERROR"
)

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind
// with errors.Is.
var (
	// ErrInvalidRequest is returned when a request is missing required fields
	// or carries a malformed context.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrGeneratorNotFound is returned when no registered generator can serve
	// the requested content type and context.
	ErrGeneratorNotFound = errors.New("no generator available")

	// ErrTimeout is returned when the deadline elapsed before a generator responded.
	ErrTimeout = errors.New("generation timed out")

	// ErrGenerationFailed is returned when a generator reports a domain-level failure.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUpstream is returned when the underlying model or service call errored.
	ErrUpstream = errors.New("upstream service error")

	// ErrLowConfidence is returned when generated content scored below the
	// configured confidence threshold.
	ErrLowConfidence = errors.New("generated content confidence too low")

	// ErrContentValidationFailed is returned when a consistency or safety check
	// rejected generated output.
	ErrContentValidationFailed = errors.New("generated content rejected")

	// ErrCancelled is returned when the caller cancelled the request.
	ErrCancelled = errors.New("generation cancelled")

	// ErrCache is used for cache read and write failures. It never surfaces as
	// a request failure.
	ErrCache = errors.New("cache error")

	// ErrInvalidConfig is returned when a generator is constructed with an
	// unusable configuration.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

var sentinels = map[Kind]error{
	KindInvalidRequest:          ErrInvalidRequest,
	KindGeneratorNotFound:       ErrGeneratorNotFound,
	KindTimeout:                 ErrTimeout,
	KindGenerationFailed:        ErrGenerationFailed,
	KindUpstream:                ErrUpstream,
	KindLowConfidence:           ErrLowConfidence,
	KindContentValidationFailed: ErrContentValidationFailed,
	KindCancelled:               ErrCancelled,
	KindCache:                   ErrCache,
}

// retryableByDefault lists the kinds that may be re-attempted without the
// generator saying so. GenerationFailed is retryable only when marked.
var retryableByDefault = map[Kind]bool{
	KindTimeout:  true,
	KindUpstream: true,
}

// Error is a classified pipeline error.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

// NewError creates an Error of the given kind. Retryability follows the kind's
// default.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryableByDefault[kind],
		Err:       cause,
	}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...), nil)
}

// Retryable marks err as safe to retry. Unclassified errors become
// GenerationFailed; a classified error keeps its kind.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		cp := *ge
		cp.Retryable = true
		return &cp
	}
	e := NewError(KindGenerationFailed, err.Error(), err)
	e.Retryable = true
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind's sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf classifies any error. Unclassified errors are GenerationFailed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindGenerationFailed
}

// IsRetryable reports whether err may be re-attempted. The decision is a
// property of the classified error, never of its text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return retryableByDefault[KindOf(err)]
}

// Classify converts any error into an *Error, preserving an existing
// classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	kind := KindOf(err)
	return NewError(kind, err.Error(), err)
}

// Recoverable reports whether a caller could reasonably resubmit a request that
// failed with this kind.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindUpstream, KindGenerationFailed, KindCancelled:
		return true
	default:
		return false
	}
}
