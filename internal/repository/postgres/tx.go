package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/errors"
)

type tx struct {
	tx *sqlx.Tx
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			keys = append(keys, id.String())
		}
	}
	sort.Strings(keys)

	var accounts []*domain.Account
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ANY($1::uuid[])
		ORDER BY id ASC
		FOR UPDATE
	`
	if err := t.tx.SelectContext(ctx, &accounts, query, pq.Array(keys)); err != nil {
		return nil, errors.Infrastructure(err, "failed to lock accounts")
	}
	if len(accounts) != len(keys) {
		return nil, errors.ErrAccountNotFound
	}

	out := make(map[uuid.UUID]*domain.Account, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	return out, nil
}

// DebitAccount relies on the balance guard in the WHERE clause; a locked row
// that does not match has too little balance.
func (t *tx) DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE accounts SET
			balance = balance - $1,
			updated_at = NOW()
		WHERE id = $2 AND balance >= $1
	`
	result, err := t.tx.ExecContext(ctx, query, amount, id)
	if err != nil {
		return errors.Infrastructure(err, "failed to debit account")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to debit account")
	}
	if rows == 0 {
		return errors.ErrInsufficientBalance
	}
	return nil
}

func (t *tx) CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	query := `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`
	result, err := t.tx.ExecContext(ctx, query, amount, id)
	if err != nil {
		return errors.Infrastructure(err, "failed to credit account")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to credit account")
	}
	if rows == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (t *tx) InsertMovement(ctx context.Context, m *domain.Movement) error {
	_, err := t.tx.NamedExecContext(ctx, insertMovementQuery, m)
	return mapWriteError(err, "failed to insert movement")
}

func (t *tx) LockMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	m := &domain.Movement{}
	query := `SELECT ` + movementColumns + ` FROM movements WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, m, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrMovementNotFound, "failed to lock movement")
	}
	return m, nil
}

func (t *tx) SumReversals(ctx context.Context, movementID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM movements
		WHERE reversal_of_movement_id = $1 AND kind = $2 AND status = $3
	`
	err := t.tx.GetContext(ctx, &total, query, movementID, domain.MovementKindReversal, domain.MovementStatusCompleted)
	if err != nil {
		return decimal.Zero, errors.Infrastructure(err, "failed to sum reversals")
	}
	return total, nil
}

func (t *tx) InsertHold(ctx context.Context, h *domain.EscrowHold) error {
	query := `INSERT INTO escrow_holds (` + holdColumns + `) VALUES (` + namedValues(holdColumns) + `)`
	_, err := t.tx.NamedExecContext(ctx, query, h)
	return mapWriteError(err, "failed to create escrow hold")
}

func (t *tx) LockHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	h := &domain.EscrowHold{}
	query := `SELECT ` + holdColumns + ` FROM escrow_holds WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, h, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrHoldNotFound, "failed to lock escrow hold")
	}
	return h, nil
}

func (t *tx) LockHoldByClaimCodeHash(ctx context.Context, hash string) (*domain.EscrowHold, error) {
	h := &domain.EscrowHold{}
	query := `SELECT ` + holdColumns + ` FROM escrow_holds WHERE claim_code_hash = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, h, query, hash); err != nil {
		return nil, mapReadError(err, errors.ErrHoldNotFound, "failed to lock escrow hold")
	}
	return h, nil
}

func (t *tx) UpdateHold(ctx context.Context, h *domain.EscrowHold) error {
	h.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE escrow_holds SET
			status = :status,
			claimed_by = :claimed_by,
			claimed_at = :claimed_at,
			funding_movement_id = :funding_movement_id,
			settlement_movement_id = :settlement_movement_id,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := t.tx.NamedExecContext(ctx, query, h)
	return mapWriteError(err, "failed to update escrow hold")
}

func (t *tx) InsertDispute(ctx context.Context, d *domain.Dispute) error {
	query := `INSERT INTO disputes (` + disputeColumns + `) VALUES (` + namedValues(disputeColumns) + `)`
	_, err := t.tx.NamedExecContext(ctx, query, d)
	return mapWriteError(err, "failed to create dispute")
}

func (t *tx) LockDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, d, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrDisputeNotFound, "failed to lock dispute")
	}
	return d, nil
}

func (t *tx) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	d.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE disputes SET
			status = :status,
			resolution = :resolution,
			refund_amount = :refund_amount,
			resolved_by = :resolved_by,
			resolved_at = :resolved_at,
			reversal_movement_id = :reversal_movement_id,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := t.tx.NamedExecContext(ctx, query, d)
	return mapWriteError(err, "failed to update dispute")
}

func (t *tx) FindActiveDispute(ctx context.Context, accountID, movementID uuid.UUID) (*domain.Dispute, error) {
	var disputes []*domain.Dispute
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE filing_account_id = $1 AND movement_id = $2 AND status IN ('open', 'in_progress')
		LIMIT 1
	`
	if err := t.tx.SelectContext(ctx, &disputes, query, accountID, movementID); err != nil {
		return nil, errors.Infrastructure(err, "failed to find active dispute")
	}
	if len(disputes) == 0 {
		return nil, nil
	}
	return disputes[0], nil
}
