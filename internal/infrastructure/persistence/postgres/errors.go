package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsForeignKeyViolation checks if the error is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKeyViolation
}

// IsSerializationFailure reports a serialization failure or a detected
// deadlock. Both are safe to retry from a fresh read.
func IsSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapError translates driver errors into domain error kinds.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsSerializationFailure(err):
		return shared.WrapError("postgres", op, shared.ErrConcurrentModification, "serialization conflict", err)
	case IsForeignKeyViolation(err):
		return shared.WrapError("postgres", op, shared.ErrDataInconsistency, "dangling reference", err)
	default:
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
}
