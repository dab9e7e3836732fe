package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/pkg/errors"
)

const holdColumns = `id, sender_account_id, recipient_email, amount, currency, claim_code_hash, status, expires_at,
	claimed_by, claimed_at, funding_movement_id, settlement_movement_id, created_at, updated_at`

const disputeColumns = `id, filing_account_id, movement_id, reason, description, status, resolution, refund_amount,
	resolved_by, resolved_at, reversal_movement_id, created_at, updated_at`

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	h := &domain.EscrowHold{}
	query := `SELECT ` + holdColumns + ` FROM escrow_holds WHERE id = $1`
	if err := s.db.GetContext(ctx, h, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrHoldNotFound, "failed to find escrow hold")
	}
	return h, nil
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.EscrowHold, error) {
	var holds []*domain.EscrowHold
	query := `
		SELECT ` + holdColumns + `
		FROM escrow_holds
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	if err := s.db.SelectContext(ctx, &holds, query, domain.HoldStatusPending, now, limitArg(limit)); err != nil {
		return nil, errors.Infrastructure(err, "failed to list expired escrow holds")
	}
	return holds, nil
}

func (s *Store) GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	if err := s.db.GetContext(ctx, d, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrDisputeNotFound, "failed to find dispute")
	}
	return d, nil
}

func (s *Store) CountActiveDisputes(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM disputes d
		JOIN movements m ON m.id = d.movement_id
		WHERE d.status IN ('open', 'in_progress')
		  AND (d.filing_account_id = $1 OR m.from_account_id = $1 OR m.to_account_id = $1)
	`
	if err := s.db.GetContext(ctx, &count, query, accountID); err != nil {
		return 0, errors.Infrastructure(err, "failed to count active disputes")
	}
	return count, nil
}
