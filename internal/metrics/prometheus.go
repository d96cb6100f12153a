package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quill"

// Prometheus exports pipeline events as Prometheus metrics registered on its
// own registry rather than the global default.
type Prometheus struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	validationScore *prometheus.HistogramVec
	validations     *prometheus.CounterVec
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates the collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of generation requests, partitioned by outcome.",
			},
			[]string{"content_type", "generator", "success", "error_code"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "End-to-end generation latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"content_type", "generator"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_retries_total",
				Help:      "Total number of attempts beyond the first.",
			},
			[]string{"content_type"},
		),
		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Cache lookups, partitioned by hit or miss.",
			},
			[]string{"content_type", "result"},
		),
		validationScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_score",
				Help:      "Distribution of content validation scores.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"generator"},
		),
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Content validations, partitioned by validity.",
			},
			[]string{"generator", "valid"},
		),
	}
}

// Registry returns the registry the collectors live on, for exposition.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// RecordGeneration implements Sink. Label values that Prometheus rejects,
// such as invalid UTF-8, are returned as errors.
func (p *Prometheus) RecordGeneration(_ context.Context, m generation.Metrics) error {
	generator := m.GeneratorID
	if m.CacheHit {
		generator = "cache"
	}
	contentType := string(m.ContentType)

	requests, err := p.requests.GetMetricWithLabelValues(
		contentType,
		generator,
		strconv.FormatBool(m.Success),
		string(m.ErrorCode),
	)
	if err != nil {
		return fmt.Errorf("generation_requests_total: %w", err)
	}
	duration, err := p.duration.GetMetricWithLabelValues(contentType, generator)
	if err != nil {
		return fmt.Errorf("generation_duration_seconds: %w", err)
	}
	requests.Inc()
	duration.Observe(float64(m.DurationMs) / 1000)

	if m.RetryCount > 0 {
		retries, err := p.retries.GetMetricWithLabelValues(contentType)
		if err != nil {
			return fmt.Errorf("generation_retries_total: %w", err)
		}
		retries.Add(float64(m.RetryCount))
	}
	return nil
}

// RecordCacheHit implements Sink.
func (p *Prometheus) RecordCacheHit(_ context.Context, _ string, contentType generation.ContentType) error {
	return p.cacheEvent(contentType, "hit")
}

// RecordCacheMiss implements Sink.
func (p *Prometheus) RecordCacheMiss(_ context.Context, _ string, contentType generation.ContentType) error {
	return p.cacheEvent(contentType, "miss")
}

func (p *Prometheus) cacheEvent(contentType generation.ContentType, result string) error {
	c, err := p.cacheEvents.GetMetricWithLabelValues(string(contentType), result)
	if err != nil {
		return fmt.Errorf("cache_events_total: %w", err)
	}
	c.Inc()
	return nil
}

// RecordValidation implements Sink.
func (p *Prometheus) RecordValidation(
	_ context.Context,
	_ string,
	generatorID string,
	result generation.ValidationResult,
) error {
	score, err := p.validationScore.GetMetricWithLabelValues(generatorID)
	if err != nil {
		return fmt.Errorf("validation_score: %w", err)
	}
	count, err := p.validations.GetMetricWithLabelValues(generatorID, strconv.FormatBool(result.IsValid))
	if err != nil {
		return fmt.Errorf("validations_total: %w", err)
	}
	score.Observe(result.Score)
	count.Inc()
	return nil
}
