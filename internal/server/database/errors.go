package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound              = errors.New("record not found")
	ErrConflict              = errors.New("key conflict")
	ErrPendingUploadNotFound = errors.New("no pending upload matches")
	ErrInvalidParent         = errors.New("folder cannot be moved into itself or a descendant")
)

const uniqueViolation = "23505"

// IsKeyConflictErr reports whether err is a unique constraint violation.
func IsKeyConflictErr(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
