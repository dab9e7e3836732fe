package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/pkg/errors"
)

const accountColumns = `id, email, currency, balance, status, kyc_state, flagged, created_at, updated_at`

// CreateAccount inserts an empty account. Value only arrives through a posted movement.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if !account.Balance.IsZero() {
		return errors.Wrap(errors.ErrInvalidRequest, "accounts open with a zero balance")
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `INSERT INTO accounts (` + accountColumns + `) VALUES (` + namedValues(accountColumns) + `)`
	_, err := s.db.NamedExecContext(ctx, query, account)
	return mapWriteError(err, "failed to create account")
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account := &domain.Account{}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if err := s.db.GetContext(ctx, account, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrAccountNotFound, "failed to find account")
	}
	return account, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	account := &domain.Account{}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(btrim(email)) = lower(btrim($1))`
	if err := s.db.GetContext(ctx, account, query, email); err != nil {
		return nil, mapReadError(err, errors.ErrAccountNotFound, "failed to find account by email")
	}
	return account, nil
}

// updateAccount waits on the row lock held by any in-flight balance mutation.
func (s *Store) updateAccount(ctx context.Context, id uuid.UUID, column string, value interface{}) error {
	query := `UPDATE accounts SET ` + column + ` = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return errors.Infrastructure(err, "failed to update account")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to update account")
	}
	if rows == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	return s.updateAccount(ctx, id, "status", status)
}

func (s *Store) UpdateAccountKYC(ctx context.Context, id uuid.UUID, state domain.KYCState) error {
	return s.updateAccount(ctx, id, "kyc_state", state)
}

func (s *Store) SetAccountFlagged(ctx context.Context, id uuid.UUID, flagged bool) error {
	return s.updateAccount(ctx, id, "flagged", flagged)
}
