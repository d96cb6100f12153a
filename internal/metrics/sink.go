// Package metrics records per-request observability data. Every sink is fire
// and forget from the pipeline's point of view: errors are logged by the
// caller and never change a request's outcome.
package metrics

import (
	"context"
	"errors"

	"github.com/phrazzld/quill/internal/generation"
)

// Sink receives observability events from the pipeline.
type Sink interface {
	RecordGeneration(ctx context.Context, m generation.Metrics) error
	RecordCacheHit(ctx context.Context, key string, contentType generation.ContentType) error
	RecordCacheMiss(ctx context.Context, key string, contentType generation.ContentType) error
	RecordValidation(ctx context.Context, requestID, generatorID string, result generation.ValidationResult) error
}

// Nop discards every event.
type Nop struct{}

var _ Sink = Nop{}

// RecordGeneration implements Sink.
func (Nop) RecordGeneration(context.Context, generation.Metrics) error { return nil }

// RecordCacheHit implements Sink.
func (Nop) RecordCacheHit(context.Context, string, generation.ContentType) error { return nil }

// RecordCacheMiss implements Sink.
func (Nop) RecordCacheMiss(context.Context, string, generation.ContentType) error { return nil }

// RecordValidation implements Sink.
func (Nop) RecordValidation(context.Context, string, string, generation.ValidationResult) error {
	return nil
}

// Multi fans events out to several sinks. Every sink is called even if an
// earlier one fails; the failures are joined.
type Multi []Sink

var _ Sink = Multi(nil)

// RecordGeneration implements Sink.
func (m Multi) RecordGeneration(ctx context.Context, rec generation.Metrics) error {
	return m.each(func(s Sink) error { return s.RecordGeneration(ctx, rec) })
}

// RecordCacheHit implements Sink.
func (m Multi) RecordCacheHit(ctx context.Context, key string, contentType generation.ContentType) error {
	return m.each(func(s Sink) error { return s.RecordCacheHit(ctx, key, contentType) })
}

// RecordCacheMiss implements Sink.
func (m Multi) RecordCacheMiss(ctx context.Context, key string, contentType generation.ContentType) error {
	return m.each(func(s Sink) error { return s.RecordCacheMiss(ctx, key, contentType) })
}

// RecordValidation implements Sink.
func (m Multi) RecordValidation(
	ctx context.Context,
	requestID, generatorID string,
	result generation.ValidationResult,
) error {
	return m.each(func(s Sink) error { return s.RecordValidation(ctx, requestID, generatorID, result) })
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
