package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/pkg/errors"
)

const movementColumns = `id, from_account_id, to_account_id, amount, currency, kind, status, status_reason,
	idempotency_key, escrow_hold_id, reversal_of_movement_id, flagged, flag_reason, description, metadata,
	origin_ip, origin_user_agent, origin_country, created_at, completed_at`

var insertMovementQuery = `INSERT INTO movements (` + movementColumns + `) VALUES (` + namedValues(movementColumns) + `)`

func (s *Store) GetMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	m := &domain.Movement{}
	query := `SELECT ` + movementColumns + ` FROM movements WHERE id = $1`
	if err := s.db.GetContext(ctx, m, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrMovementNotFound, "failed to find movement")
	}
	return m, nil
}

func (s *Store) FindMovementByIdempotencyKey(ctx context.Context, key string) (*domain.Movement, error) {
	m := &domain.Movement{}
	query := `SELECT ` + movementColumns + ` FROM movements WHERE idempotency_key = $1`
	if err := s.db.GetContext(ctx, m, query, key); err != nil {
		return nil, mapReadError(err, errors.ErrMovementNotFound, "failed to find movement by idempotency key")
	}
	return m, nil
}

func (s *Store) ListAccountMovements(ctx context.Context, accountID uuid.UUID, since time.Time) ([]*domain.Movement, error) {
	var movements []*domain.Movement
	query := `
		SELECT ` + movementColumns + `
		FROM movements
		WHERE (from_account_id = $1 OR to_account_id = $1) AND created_at >= $2
		ORDER BY created_at ASC, id ASC
	`
	if err := s.db.SelectContext(ctx, &movements, query, accountID, since); err != nil {
		return nil, errors.Infrastructure(err, "failed to list account movements")
	}
	return movements, nil
}

func (s *Store) RecordFailedMovement(ctx context.Context, movement *domain.Movement) error {
	_, err := s.db.NamedExecContext(ctx, insertMovementQuery, movement)
	return mapWriteError(err, "failed to record failed movement")
}

func (s *Store) FlagMovement(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE movements SET flagged = TRUE, flag_reason = $1 WHERE id = $2`, reason, id)
	if err != nil {
		return errors.Infrastructure(err, "failed to flag movement")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to flag movement")
	}
	if rows == 0 {
		return errors.ErrMovementNotFound
	}
	return nil
}
