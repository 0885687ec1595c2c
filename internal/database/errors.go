package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"ms-reservation/internal/models"
)

// IsUniqueViolation reports whether err is a unique constraint failure on
// Postgres or SQLite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Classify maps driver errors onto the service error taxonomy. Anything that
// is not a known condition is a transient store failure.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", models.ErrUnavailable, op, err)
	}
}
