package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/errors"
)

// openTestStore applies the migrations to DATABASE_URL and truncates every
// table. It skips when no database is reachable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		t.Skip("Skipping integration test: database not available")
	}
	t.Cleanup(func() { db.Close() })

	m, err := migrate.New("file://../../../migrations", dbURL)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err)
	}

	_, err = db.Exec(`TRUNCATE fraud_alerts, fraud_rules, disputes, escrow_holds, accounts CASCADE`)
	require.NoError(t, err)
	return NewStore(db, 5*time.Second)
}

// seedAccount opens an empty account and funds it with one deposit movement.
func seedAccount(t *testing.T, s *Store, email string, balance int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	a := &domain.Account{
		ID:       uuid.New(),
		Email:    email,
		Currency: domain.USD,
		Status:   domain.AccountStatusActive,
		KYCState: domain.KYCStateNone,
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
		now := time.Now().UTC()
		return tx.InsertMovement(ctx, &domain.Movement{
			ID:          uuid.New(),
			ToAccountID: &to,
			Amount:      amount,
			Currency:    domain.USD,
			Kind:        domain.MovementKindDeposit,
			Status:      domain.MovementStatusCompleted,
			CreatedAt:   now,
			CompletedAt: &now,
		})
	}))
	a.Balance = amount
	return a
}

func TestStore_CreateAccountRejectsOpeningBalance(t *testing.T) {
	s := openTestStore(t)
	err := s.CreateAccount(context.Background(), &domain.Account{
		ID: uuid.New(), Email: "opening@example.com", Currency: domain.USD,
		Balance: decimal.NewFromInt(5), Status: domain.AccountStatusActive, KYCState: domain.KYCStateNone,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestStore_AccountEmailUniqueCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := seedAccount(t, s, "Alice@Example.com", 0)
	err := s.CreateAccount(ctx, &domain.Account{
		ID: uuid.New(), Email: "alice@example.COM", Currency: domain.USD,
		Status: domain.AccountStatusActive, KYCState: domain.KYCStateNone,
	})
	assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)

	got, err := s.GetAccountByEmail(ctx, " ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestStore_DebitGuardsBalance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "debit@example.com", 50)

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		return tx.DebitAccount(ctx, a.ID, decimal.NewFromInt(51))
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	err = s.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID, uuid.New()); err != nil {
			return err
		}
		return nil
	})
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(50)))
}

func transferTx(s *Store, from, to uuid.UUID, amount decimal.Decimal, key *string) error {
	ctx := context.Background()
	return s.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockAccounts(ctx, from, to); err != nil {
			return err
		}
		if err := tx.DebitAccount(ctx, from, amount); err != nil {
			return err
		}
		if err := tx.CreditAccount(ctx, to, amount); err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.InsertMovement(ctx, &domain.Movement{
			ID:             uuid.New(),
			FromAccountID:  &from,
			ToAccountID:    &to,
			Amount:         amount,
			Currency:       domain.USD,
			Kind:           domain.MovementKindTransfer,
			Status:         domain.MovementStatusCompleted,
			IdempotencyKey: key,
			CreatedAt:      now,
			CompletedAt:    &now,
		})
	})
}

func TestStore_ConcurrentOpposingTransfersConserveValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "a@example.com", 1000)
	b := seedAccount(t, s, "b@example.com", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = transferTx(s, a.ID, b.ID, decimal.NewFromInt(7), nil)
		}()
		go func() {
			defer wg.Done()
			_ = transferTx(s, b.ID, a.ID, decimal.NewFromInt(3), nil)
		}()
	}
	wg.Wait()

	gotA, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := s.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Add(gotB.Balance).Equal(decimal.NewFromInt(2000)))
	assert.True(t, gotA.Balance.Equal(decimal.NewFromInt(920)))
}

func TestStore_IdempotencyKeyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "idem-a@example.com", 100)
	b := seedAccount(t, s, "idem-b@example.com", 0)

	key := "key-" + uuid.NewString()
	require.NoError(t, transferTx(s, a.ID, b.ID, decimal.NewFromInt(10), &key))
	assert.ErrorIs(t, transferTx(s, a.ID, b.ID, decimal.NewFromInt(10), &key), errors.ErrDuplicateMovement)

	m, err := s.FindMovementByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(10)))

	gotA, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Equal(decimal.NewFromInt(90)))

	require.NoError(t, s.FlagMovement(ctx, m.ID, "burst"))
	flagged, err := s.GetMovement(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, flagged.Flagged)
	assert.Equal(t, "burst", flagged.FlagReason)
}

func TestStore_RulesAndAlerts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "rules-a@example.com", 100)
	b := seedAccount(t, s, "rules-b@example.com", 0)
	require.NoError(t, transferTx(s, a.ID, b.ID, decimal.NewFromInt(10), nil))
	movements, err := s.ListAccountMovements(ctx, b.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, movements, 1)

	rule := &domain.FraudRule{
		ID:         uuid.New(),
		Name:       "new user",
		RuleType:   domain.RuleTypeNewUserHighAmount,
		Conditions: domain.NewUserHighAmountCondition{MaxAccountAgeDays: 7, MinAmount: decimal.NewFromInt(5)},
		Severity:   domain.SeverityHigh,
		IsActive:   true,
	}
	require.NoError(t, s.CreateRule(ctx, rule))

	rules, err := s.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	cond, ok := rules[0].Conditions.(domain.NewUserHighAmountCondition)
	require.True(t, ok)
	assert.Equal(t, 7, cond.MaxAccountAgeDays)

	alert := &domain.FraudAlert{
		ID: uuid.New(), MovementID: movements[0].ID, AccountID: a.ID, RuleID: rule.ID,
		RuleType: rule.RuleType, Severity: rule.Severity, Status: domain.AlertStatusOpen, Reason: "new user",
	}
	created, err := s.InsertAlert(ctx, alert)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.FraudAlert{
		ID: uuid.New(), MovementID: movements[0].ID, AccountID: a.ID, RuleID: rule.ID,
		RuleType: rule.RuleType, Severity: rule.Severity, Status: domain.AlertStatusOpen, Reason: "again",
	}
	created, err = s.InsertAlert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, alert.ID, dup.ID)

	open, err := s.ListAlerts(ctx, domain.AlertStatusOpen, 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
