package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/errors"
)

// seedAccount opens an empty account and funds it with one deposit movement.
func seedAccount(t *testing.T, s *Store, balance int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	a := &domain.Account{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		Currency: domain.USD,
		Status:   domain.AccountStatusActive,
		KYCState: domain.KYCStateVerified,
	}
	require.NoError(t, s.CreateAccount(ctx, a))
	if balance == 0 {
		return a
	}
	amount := decimal.NewFromInt(balance)
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.CreditAccount(ctx, a.ID, amount); err != nil {
			return err
		}
		to := a.ID
		return tx.InsertMovement(ctx, &domain.Movement{
			ID:          uuid.New(),
			ToAccountID: &to,
			Amount:      amount,
			Currency:    domain.USD,
			Kind:        domain.MovementKindDeposit,
			Status:      domain.MovementStatusCompleted,
			CreatedAt:   time.Now().UTC(),
		})
	}))
	a.Balance = amount
	return a
}

func TestCreateAccount_RejectsOpeningBalance(t *testing.T) {
	s := NewStore()
	a := &domain.Account{
		ID:       uuid.New(),
		Email:    "rich@example.com",
		Currency: domain.USD,
		Balance:  decimal.NewFromInt(50),
		Status:   domain.AccountStatusActive,
	}
	err := s.CreateAccount(context.Background(), a)
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	_, err = s.GetAccount(context.Background(), a.ID)
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := seedAccount(t, s, 100)

	boom := errors.ErrInvalidAmount
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockAccounts(ctx, a.ID)
		require.NoError(t, err)
		require.NoError(t, tx.DebitAccount(ctx, a.ID, decimal.NewFromInt(40)))
		require.NoError(t, tx.InsertMovement(ctx, &domain.Movement{ID: uuid.New(), Amount: decimal.NewFromInt(40)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	movements, err := s.ListAccountMovements(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementKindDeposit, movements[0].Kind)
}

func TestTx_DebitRefusesNegativeBalance(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := seedAccount(t, s, 10)

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		return tx.DebitAccount(ctx, a.ID, decimal.NewFromInt(11))
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestTx_DebitWithoutLockFails(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := seedAccount(t, s, 10)

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.DebitAccount(ctx, a.ID, decimal.NewFromInt(1))
	})
	assert.Equal(t, errors.ClassInfrastructure, errors.ClassOf(err))
}

func TestTx_LockAccountsSerializesWriters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := seedAccount(t, s, 1000)
	b := seedAccount(t, s, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		go func(from, to uuid.UUID) {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx repository.Tx) error {
				if _, err := tx.LockAccounts(ctx, from, to); err != nil {
					return err
				}
				if err := tx.DebitAccount(ctx, from, decimal.NewFromInt(7)); err != nil {
					return err
				}
				return tx.CreditAccount(ctx, to, decimal.NewFromInt(7))
			})
			assert.NoError(t, err)
		}(from, to)
	}
	wg.Wait()

	ga, _ := s.GetAccount(ctx, a.ID)
	gb, _ := s.GetAccount(ctx, b.ID)
	assert.True(t, ga.Balance.Add(gb.Balance).Equal(decimal.NewFromInt(2000)))
	assert.True(t, ga.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestTx_IdempotencyKeyUnique(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	key := "key-1"

	insert := func() error {
		return s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.InsertMovement(ctx, &domain.Movement{ID: uuid.New(), IdempotencyKey: &key, Amount: decimal.NewFromInt(1)})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), errors.ErrDuplicateMovement)

	m, err := s.FindMovementByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, *m.IdempotencyKey)
}

func TestTx_LockWaitHonoursContext(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s, 10)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(context.Background(), func(tx repository.Tx) error {
			_, err := tx.LockAccounts(context.Background(), a.ID)
			close(held)
			<-done
			return err
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockAccounts(ctx, a.ID)
		return err
	})
	close(done)
	assert.Equal(t, errors.ClassInfrastructure, errors.ClassOf(err))
}

func TestInsertAlert_DedupesPerMovementAndRule(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	movementID, ruleID := uuid.New(), uuid.New()

	first := &domain.FraudAlert{ID: uuid.New(), MovementID: movementID, RuleID: ruleID, Status: domain.AlertStatusOpen}
	created, err := s.InsertAlert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &domain.FraudAlert{ID: uuid.New(), MovementID: movementID, RuleID: ruleID, Status: domain.AlertStatusOpen}
	created, err = s.InsertAlert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	alerts, err := s.ListAlertsByMovement(ctx, movementID)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestTx_ActiveDisputeUnique(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	accountID, movementID := uuid.New(), uuid.New()

	file := func() error {
		return s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.InsertDispute(ctx, &domain.Dispute{
				ID: uuid.New(), FilingAccountID: accountID, MovementID: movementID, Status: domain.DisputeStatusOpen,
			})
		})
	}
	require.NoError(t, file())
	assert.ErrorIs(t, file(), errors.ErrDisputeAlreadyOpen)
}
