package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/metrics"
	"github.com/phrazzld/quill/internal/store"
)

// MetricsSink writes pipeline observability events to the generations,
// cache_events and validations tables.
type MetricsSink struct {
	db *sql.DB
}

var _ metrics.Sink = (*MetricsSink)(nil)

// NewMetricsSink creates a sink over db.
func NewMetricsSink(db *sql.DB) *MetricsSink {
	return &MetricsSink{db: db}
}

// RecordGeneration inserts one generations row.
func (s *MetricsSink) RecordGeneration(ctx context.Context, m generation.Metrics) error {
	query := `
		INSERT INTO generations (
			request_id, content_type, generator_id, started_at, finished_at,
			duration_ms, cache_hit, retry_count, success, error_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.RequestID,
		string(m.ContentType),
		m.GeneratorID,
		m.Start.UTC(),
		m.End.UTC(),
		m.DurationMs,
		m.CacheHit,
		m.RetryCount,
		m.Success,
		string(m.ErrorCode),
	)
	if err != nil {
		return store.NewStoreError("generation", "record", "insert failed", MapError(err))
	}
	return nil
}

// RecordCacheHit inserts a hit into cache_events.
func (s *MetricsSink) RecordCacheHit(ctx context.Context, key string, contentType generation.ContentType) error {
	return s.recordCacheEvent(ctx, key, contentType, true)
}

// RecordCacheMiss inserts a miss into cache_events.
func (s *MetricsSink) RecordCacheMiss(ctx context.Context, key string, contentType generation.ContentType) error {
	return s.recordCacheEvent(ctx, key, contentType, false)
}

func (s *MetricsSink) recordCacheEvent(ctx context.Context, key string, contentType generation.ContentType, hit bool) error {
	query := `INSERT INTO cache_events (cache_key, content_type, hit) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, key, string(contentType), hit); err != nil {
		return store.NewStoreError("cache_event", "record", "insert failed", MapError(err))
	}
	return nil
}

// RecordValidation inserts one validations row.
func (s *MetricsSink) RecordValidation(
	ctx context.Context,
	requestID, generatorID string,
	result generation.ValidationResult,
) error {
	issues := result.Issues
	if issues == nil {
		issues = []string{}
	}
	data, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("failed to marshal validation issues: %w", err)
	}

	query := `
		INSERT INTO validations (request_id, generator_id, is_valid, score, issues)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, requestID, generatorID, result.IsValid, result.Score, data); err != nil {
		return store.NewStoreError("validation", "record", "insert failed", MapError(err))
	}
	return nil
}

// Prune deletes every event recorded before cutoff from all three tables in
// one transaction and returns the number of rows removed.
func (s *MetricsSink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{"generations", "cache_events", "validations"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE recorded_at < $1`, cutoff.UTC())
			if err != nil {
				return store.NewStoreError(table, "prune", "delete failed", MapError(err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
