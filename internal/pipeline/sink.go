package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/metrics"
)

// UnknownContentType is reported to sinks in place of content types that no
// registered generator declares.
const UnknownContentType generation.ContentType = "unknown"

// ErrSinkPanic wraps a panic raised inside a metrics sink.
var ErrSinkPanic = errors.New("metrics sink panicked")

// guardedSink sits between the pipeline and the configured sink. A panicking
// sink surfaces as an error, and content types are folded to
// UnknownContentType unless known reports them, which keeps the label set
// bounded by what is registered.
type guardedSink struct {
	sink  metrics.Sink
	known func(generation.ContentType) bool
}

var _ metrics.Sink = guardedSink{}

func (s guardedSink) label(contentType generation.ContentType) generation.ContentType {
	if s.known != nil && s.known(contentType) {
		return contentType
	}
	return UnknownContentType
}

func (s guardedSink) RecordGeneration(ctx context.Context, m generation.Metrics) (err error) {
	defer recoverSink(&err)
	m.ContentType = s.label(m.ContentType)
	return s.sink.RecordGeneration(ctx, m)
}

func (s guardedSink) RecordCacheHit(ctx context.Context, key string, contentType generation.ContentType) (err error) {
	defer recoverSink(&err)
	return s.sink.RecordCacheHit(ctx, key, s.label(contentType))
}

func (s guardedSink) RecordCacheMiss(ctx context.Context, key string, contentType generation.ContentType) (err error) {
	defer recoverSink(&err)
	return s.sink.RecordCacheMiss(ctx, key, s.label(contentType))
}

func (s guardedSink) RecordValidation(
	ctx context.Context,
	requestID, generatorID string,
	result generation.ValidationResult,
) (err error) {
	defer recoverSink(&err)
	return s.sink.RecordValidation(ctx, requestID, generatorID, result)
}

func recoverSink(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
	}
}
