package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/quill/internal/store"
)

// constraintErrors maps PostgreSQL SQLSTATE codes to store sentinels.
var constraintErrors = map[string]struct {
	sentinel error
	label    string
}{
	"23505": {store.ErrDuplicate, "unique violation"},
	"23503": {store.ErrInvalidEntity, "foreign key violation"},
	"23514": {store.ErrInvalidEntity, "check violation"},
	"23502": {store.ErrInvalidEntity, "not null violation"},
	"22P02": {store.ErrInvalidEntity, "invalid text representation"},
}

// MapError translates driver errors into store sentinels so callers never
// match on pgconn types. Errors it does not recognize pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	mapped, ok := constraintErrors[pgErr.Code]
	if !ok {
		return err
	}

	subject := pgErr.ConstraintName
	if subject == "" {
		subject = pgErr.ColumnName
	}
	if subject == "" {
		return fmt.Errorf("%w: %s: %v", mapped.sentinel, mapped.label, err)
	}
	return fmt.Errorf("%w: %s (%s): %v", mapped.sentinel, mapped.label, subject, err)
}

// CheckRowsAffected returns store.ErrNotFound when a write touched no rows.
func CheckRowsAffected(result sql.Result, entity string) error {
	if result == nil {
		return errors.New("nil result")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if entity == "" {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %s not found", store.ErrNotFound, entity)
}
