package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paycore/internal/domain"
	"paycore/internal/repository/memory"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Enqueue(movement *domain.Movement) error {
	args := m.Called(movement)
	return args.Error(0)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *MockDispatcher) {
	t.Helper()
	store := memory.NewStore()
	dispatcher := new(MockDispatcher)
	cfg := config.LedgerConfig{MaxTransactionAmount: decimal.NewFromInt(10000)}
	return NewService(store, dispatcher, cfg, time.Second, logger.NewNop()), store, dispatcher
}

// createAccount opens an active account, funds it with a deposit and then
// applies the wanted status. Funding runs without a dispatcher.
func createAccount(t *testing.T, store *memory.Store, balance int64, status domain.AccountStatus) *domain.Account {
	t.Helper()
	ctx := context.Background()
	a := &domain.Account{
		ID:       uuid.New(),
		Email:    fmt.Sprintf("%s@example.com", uuid.NewString()),
		Currency: domain.USD,
		Status:   domain.AccountStatusActive,
		KYCState: domain.KYCStateVerified,
	}
	require.NoError(t, store.CreateAccount(ctx, a))
	if balance > 0 {
		funder := NewService(store, nil, config.LedgerConfig{}, time.Second, logger.NewNop())
		_, err := funder.Adjust(ctx, AdjustRequest{
			AccountID:   a.ID,
			Direction:   Credit,
			Amount:      decimal.NewFromInt(balance),
			Currency:    domain.USD,
			Kind:        domain.MovementKindDeposit,
			Description: "test funding",
		})
		require.NoError(t, err)
	}
	if status != domain.AccountStatusActive {
		require.NoError(t, store.UpdateAccountStatus(ctx, a.ID, status))
	}
	a.Balance = decimal.NewFromInt(balance)
	a.Status = status
	return a
}

func balanceOf(t *testing.T, store *memory.Store, id uuid.UUID) decimal.Decimal {
	t.Helper()
	a, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func transfer(from, to uuid.UUID, amount int64) TransferRequest {
	return TransferRequest{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        decimal.NewFromInt(amount),
		Currency:      domain.USD,
	}
}

func TestTransfer_DebitsAndCreditsThenRejectsOverdraft(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil).Once()

	m, err := svc.Transfer(ctx, transfer(a.ID, b.ID, 40))
	require.NoError(t, err)
	assert.Equal(t, domain.MovementStatusCompleted, m.Status)
	assert.Equal(t, domain.MovementKindTransfer, m.Kind)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(60)))
	assert.True(t, balanceOf(t, store, b.ID).Equal(decimal.NewFromInt(40)))

	_, err = svc.Transfer(ctx, transfer(a.ID, b.ID, 80))
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(60)))
	assert.True(t, balanceOf(t, store, b.ID).Equal(decimal.NewFromInt(40)))

	movements, err := store.ListAccountMovements(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, domain.MovementKindDeposit, movements[0].Kind)
	assert.Equal(t, domain.MovementStatusFailed, movements[2].Status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", movements[2].StatusReason)

	dispatcher.AssertExpectations(t)
}

func TestTransfer_Validation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)

	tests := []struct {
		name string
		req  TransferRequest
		want error
	}{
		{"zero amount", transfer(a.ID, b.ID, 0), errors.ErrInvalidAmount},
		{"negative amount", transfer(a.ID, b.ID, -5), errors.ErrInvalidAmount},
		{"above ceiling", transfer(a.ID, b.ID, 10001), errors.ErrInvalidAmount},
		{"self transfer", transfer(a.ID, a.ID, 5), errors.ErrSelfTransferRejected},
		{"unknown recipient", transfer(a.ID, uuid.New(), 5), errors.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	req := transfer(a.ID, b.ID, 5)
	req.Currency = domain.EUR
	_, err := svc.Transfer(ctx, req)
	assert.ErrorIs(t, err, errors.ErrCurrencyMismatch)

	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(100)))
}

func TestTransfer_AccountStatusGates(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	active := createAccount(t, store, 100, domain.AccountStatusActive)
	suspended := createAccount(t, store, 100, domain.AccountStatusSuspended)
	deleted := createAccount(t, store, 100, domain.AccountStatusDeleted)
	dispatcher.On("Enqueue", mock.Anything).Return(nil)

	_, err := svc.Transfer(ctx, transfer(suspended.ID, active.ID, 10))
	assert.ErrorIs(t, err, errors.ErrAccountUnavailable)

	_, err = svc.Transfer(ctx, transfer(active.ID, suspended.ID, 10))
	assert.ErrorIs(t, err, errors.ErrAccountUnavailable)

	reversal := transfer(suspended.ID, active.ID, 10)
	reversal.Kind = domain.MovementKindReversal
	_, err = svc.Transfer(ctx, reversal)
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, suspended.ID).Equal(decimal.NewFromInt(90)))

	reversal = transfer(deleted.ID, active.ID, 10)
	reversal.Kind = domain.MovementKindReversal
	_, err = svc.Transfer(ctx, reversal)
	assert.ErrorIs(t, err, errors.ErrAccountUnavailable)
}

func TestTransfer_IdempotencyKeyReturnsOriginal(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil).Once()

	req := transfer(a.ID, b.ID, 25)
	req.IdempotencyKey = "order-42"

	first, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := svc.Transfer(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(75)))
	dispatcher.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestTransfer_ConcurrentIdempotentRequestsApplyOnce(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil)

	req := transfer(a.ID, b.ID, 10)
	req.IdempotencyKey = "retry-storm"

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := svc.Transfer(ctx, req)
			if assert.NoError(t, err) {
				ids <- m.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(90)))
}

func TestTransfer_FailureBetweenDebitAndCreditAppliesNothing(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)

	injected := errors.Infrastructure(fmt.Errorf("connection reset"), "failed to post movement")
	svc.afterDebit = func(*domain.Movement) error { return injected }

	_, err := svc.Transfer(ctx, transfer(a.ID, b.ID, 40))
	assert.ErrorIs(t, err, errors.ErrInfrastructure)

	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, store, b.ID).Equal(decimal.Zero))
	movements, err := store.ListAccountMovements(ctx, b.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, movements)
	dispatcher.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestTransfer_DispatchFailureDoesNotFailTransfer(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(errors.ErrQueueFull)

	m, err := svc.Transfer(context.Background(), transfer(a.ID, b.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, domain.MovementStatusCompleted, m.Status)
}

func TestTransfer_ConcurrentTransfersConserveValue(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	dispatcher.On("Enqueue", mock.Anything).Return(nil)

	const accounts = 5
	ids := make([]uuid.UUID, accounts)
	for i := range ids {
		ids[i] = createAccount(t, store, 100, domain.AccountStatusActive).ID
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				from := ids[r.Intn(accounts)]
				to := ids[r.Intn(accounts)]
				if from == to {
					continue
				}
				_, err := svc.Transfer(ctx, transfer(from, to, int64(r.Intn(60)+1)))
				if err != nil {
					assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	total := decimal.Zero
	for _, id := range ids {
		bal := balanceOf(t, store, id)
		assert.False(t, bal.IsNegative())
		total = total.Add(bal)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(100*accounts)), "total was %s", total)
}

func TestExecute_CompositePostingIsAtomic(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	c := createAccount(t, store, 0, domain.AccountStatusActive)

	err := svc.Execute(ctx, func(p *Posting) error {
		if _, err := p.Transfer(transfer(a.ID, b.ID, 60)); err != nil {
			return err
		}
		_, err := p.Transfer(transfer(a.ID, c.ID, 60))
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, store, b.ID).IsZero())
	dispatcher.AssertNotCalled(t, "Enqueue", mock.Anything)

	dispatcher.On("Enqueue", mock.Anything).Return(nil).Twice()
	err = svc.Execute(ctx, func(p *Posting) error {
		if _, err := p.Transfer(transfer(a.ID, b.ID, 30)); err != nil {
			return err
		}
		_, err := p.Transfer(transfer(a.ID, c.ID, 30))
		return err
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(40)))
	dispatcher.AssertExpectations(t)
}

func TestAdjustAndWithdraw(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 50, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil)

	m, err := svc.Withdraw(ctx, WithdrawRequest{
		AccountID:   a.ID,
		Amount:      decimal.NewFromInt(20),
		Currency:    domain.USD,
		Destination: "GABC123",
		Network:     "stellar",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementKindWithdrawalSettlement, m.Kind)
	assert.Nil(t, m.ToAccountID)
	assert.Equal(t, "GABC123", m.Metadata["destination"])
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(30)))

	_, err = svc.Adjust(ctx, AdjustRequest{
		AccountID: a.ID,
		Direction: Credit,
		Amount:    decimal.NewFromInt(5),
		Currency:  domain.USD,
		Kind:      domain.MovementKindTransfer,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	_, err = svc.Withdraw(ctx, WithdrawRequest{AccountID: a.ID, Amount: decimal.NewFromInt(5), Currency: domain.USD})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestOpenAccountAndStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	acct, err := svc.OpenAccount(ctx, OpenAccountRequest{Email: "new@example.com", Currency: domain.USD})
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, acct.Status)
	assert.Equal(t, domain.KYCStateNone, acct.KYCState)

	_, err = svc.OpenAccount(ctx, OpenAccountRequest{Email: "NEW@example.com", Currency: domain.USD})
	assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)

	updated, err := svc.SetAccountStatus(ctx, acct.ID, domain.AccountStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusSuspended, updated.Status)

	_, err = svc.SetAccountStatus(ctx, acct.ID, "frozen")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestPost_IdempotencyKeyReusedForDifferentRequestConflicts(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 100, domain.AccountStatusActive)
	b := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil).Once()

	req := transfer(a.ID, b.ID, 10)
	req.IdempotencyKey = "shared-key"
	original, err := svc.Transfer(ctx, req)
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, WithdrawRequest{
		AccountID:      a.ID,
		Amount:         decimal.NewFromInt(10),
		Currency:       domain.USD,
		Destination:    "GABC123",
		IdempotencyKey: "shared-key",
	})
	assert.ErrorIs(t, err, errors.ErrDuplicateMovement)

	other := transfer(a.ID, b.ID, 25)
	other.IdempotencyKey = "shared-key"
	_, err = svc.Transfer(ctx, other)
	assert.ErrorIs(t, err, errors.ErrDuplicateMovement)

	replayed, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, original.ID, replayed.ID)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(90)))
	dispatcher.AssertExpectations(t)
}

func TestAdjust_DepositIsCreditOnly(t *testing.T) {
	svc, store, dispatcher := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 0, domain.AccountStatusActive)
	dispatcher.On("Enqueue", mock.Anything).Return(nil).Once()

	m, err := svc.Adjust(ctx, AdjustRequest{
		AccountID: a.ID,
		Direction: Credit,
		Amount:    decimal.NewFromInt(30),
		Currency:  domain.USD,
		Kind:      domain.MovementKindDeposit,
	})
	require.NoError(t, err)
	assert.Nil(t, m.FromAccountID)
	assert.Equal(t, &a.ID, m.ToAccountID)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(30)))

	_, err = svc.Adjust(ctx, AdjustRequest{
		AccountID: a.ID,
		Direction: Debit,
		Amount:    decimal.NewFromInt(10),
		Currency:  domain.USD,
		Kind:      domain.MovementKindDeposit,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
	assert.True(t, balanceOf(t, store, a.ID).Equal(decimal.NewFromInt(30)))
	dispatcher.AssertExpectations(t)
}

func TestOpenAccount_StartsEmpty(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	acct, err := svc.OpenAccount(ctx, OpenAccountRequest{Email: "empty@example.com", Currency: domain.USD})
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())

	err = store.CreateAccount(ctx, &domain.Account{
		ID:       uuid.New(),
		Email:    "preloaded@example.com",
		Currency: domain.USD,
		Balance:  decimal.NewFromInt(1),
		Status:   domain.AccountStatusActive,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestSetAccountKYCAndFlagged(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	a := createAccount(t, store, 0, domain.AccountStatusActive)

	updated, err := svc.SetAccountKYC(ctx, a.ID, domain.KYCStatePending)
	require.NoError(t, err)
	assert.Equal(t, domain.KYCStatePending, updated.KYCState)

	_, err = svc.SetAccountKYC(ctx, a.ID, "unknown")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	updated, err = svc.SetAccountFlagged(ctx, a.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Flagged)

	updated, err = svc.SetAccountFlagged(ctx, a.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Flagged)

	_, err = svc.SetAccountFlagged(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}
