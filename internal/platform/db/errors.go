package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/procurepro/procurepro/internal/shared"
)

// PostgreSQL error codes translated into the shared taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// MapError translates storage errors into shared sentinels. Unknown errors
// are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: duplicate %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: still referenced by %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeCheckViolation:
		return fmt.Errorf("%w: violates %s", shared.ErrValidation, pgErr.ConstraintName)
	case codeNumericOutOfRange:
		return fmt.Errorf("%w: numeric value out of range", shared.ErrValidation)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: concurrent update, retry the request", shared.ErrConflict)
	}
	return err
}
