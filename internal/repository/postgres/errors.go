package postgres

import (
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"paycore/pkg/errors"
)

const uniqueViolation = "23505"

// Constraint names from the schema migrations.
const (
	constraintAccountEmail        = "accounts_email_lower_key"
	constraintMovementIdempotency = "movements_idempotency_key_key"
	constraintActiveDispute       = "disputes_active_filing_key"
)

// mapWriteError turns unique violations into their domain errors and wraps
// everything else as infrastructure.
func mapWriteError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		switch pqErr.Constraint {
		case constraintAccountEmail, "accounts_pkey":
			return errors.ErrAccountAlreadyExists
		case constraintMovementIdempotency, "movements_pkey":
			return errors.ErrDuplicateMovement
		case constraintActiveDispute:
			return errors.ErrDisputeAlreadyOpen
		}
	}
	return errors.Infrastructure(err, message)
}

// mapReadError returns notFound for sql.ErrNoRows.
func mapReadError(err error, notFound error, message string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Infrastructure(err, message)
}
