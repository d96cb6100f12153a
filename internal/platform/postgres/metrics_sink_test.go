package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/postgres"
	"github.com/phrazzld/quill/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSink(t *testing.T) (*postgres.MetricsSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewMetricsSink(db), mock
}

func TestMetricsSink_RecordGeneration(t *testing.T) {
	t.Parallel()

	sink, mock := newMockSink(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := generation.Metrics{
		RequestID:   "r1",
		ContentType: generation.ContentTypeEmailSubject,
		GeneratorID: "template",
		Start:       start,
		End:         start.Add(20 * time.Millisecond),
		DurationMs:  20,
		RetryCount:  1,
		Success:     true,
	}

	mock.ExpectExec("INSERT INTO generations").
		WithArgs("r1", "EMAIL_SUBJECT", "template", start, start.Add(20*time.Millisecond), int64(20), false, 1, true, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.RecordGeneration(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsSink_CacheEvents(t *testing.T) {
	t.Parallel()

	sink, mock := newMockSink(t)
	mock.ExpectExec("INSERT INTO cache_events").
		WithArgs("quill:content:k", "SUMMARY", true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cache_events").
		WithArgs("quill:content:k", "SUMMARY", false).
		WillReturnError(errors.New("down"))

	require.NoError(t, sink.RecordCacheHit(context.Background(), "quill:content:k", generation.ContentTypeSummary))

	err := sink.RecordCacheMiss(context.Background(), "quill:content:k", generation.ContentTypeSummary)
	var se *store.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cache_event", se.Entity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsSink_RecordValidation(t *testing.T) {
	t.Parallel()

	sink, mock := newMockSink(t)
	mock.ExpectExec("INSERT INTO validations").
		WithArgs("r1", "llm-gemini", false, 0.6, []byte(`["subject spans multiple lines"]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO validations").
		WithArgs("r2", "template", true, 1.0, []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, sink.RecordValidation(context.Background(), "r1", "llm-gemini", generation.ValidationResult{
		IsValid: false, Score: 0.6, Issues: []string{"subject spans multiple lines"},
	}))
	require.NoError(t, sink.RecordValidation(context.Background(), "r2", "template", generation.ValidationResult{
		IsValid: true, Score: 1,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsSink_Prune(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deletes from every table", func(t *testing.T) {
		t.Parallel()
		sink, mock := newMockSink(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM generations").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec("DELETE FROM cache_events").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("DELETE FROM validations").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := sink.Prune(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()
		sink, mock := newMockSink(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM generations").WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec("DELETE FROM cache_events").WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		n, err := sink.Prune(context.Background(), cutoff)
		require.Error(t, err)
		assert.Zero(t, n)
		assert.Contains(t, err.Error(), "prune operation on cache_events failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
