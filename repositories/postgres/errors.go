package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/coach-accounts/repositories"
)

// PostgreSQL error codes the repositories translate
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqStringTooLong       = "22001"
)

// mapError converts driver errors into repository sentinels and adds op context
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w", op, &repositories.DuplicateError{Constraint: pqErr.Constraint})
		case pqForeignKeyViolation, pqCheckViolation, pqStringTooLong:
			return fmt.Errorf("%s: %s: %w", op, pqErr.Message, repositories.ErrConstraint)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// expectOneRow turns a zero-row write into ErrNotFound
func expectOneRow(op string, result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
	}
	return nil
}
