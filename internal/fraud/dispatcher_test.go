package fraud

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/repository/memory"
	"paycore/pkg/cache"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

type evaluatorFunc func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
	return f(ctx, m)
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(evaluatorFunc(func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
		<-release
		return nil, nil
	}), config.FraudConfig{Workers: 1, QueueSize: 2}, logger.NewNop())

	m := &domain.Movement{ID: uuid.New(), Status: domain.MovementStatusCompleted}
	require.NoError(t, d.Enqueue(m))
	require.NoError(t, d.Enqueue(m))
	assert.ErrorIs(t, d.Enqueue(m), errors.ErrQueueFull)

	d.Start()
	close(release)
	require.NoError(t, d.Stop(context.Background()))
	assert.ErrorIs(t, d.Enqueue(m), errors.ErrQueueFull)
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	var processed atomic.Int32
	d := NewDispatcher(evaluatorFunc(func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
		processed.Add(1)
		return nil, nil
	}), config.FraudConfig{Workers: 3, QueueSize: 64}, logger.NewNop())
	d.Start()

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Enqueue(&domain.Movement{ID: uuid.New()}))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.EqualValues(t, 50, processed.Load())
}

func TestDispatcher_JobsRunDetachedWithTimeout(t *testing.T) {
	deadlines := make(chan bool, 1)
	d := NewDispatcher(evaluatorFunc(func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
		_, ok := ctx.Deadline()
		deadlines <- ok && ctx.Err() == nil
		return nil, nil
	}), config.FraudConfig{Workers: 1, QueueSize: 1, EvalTimeout: time.Minute}, logger.NewNop())
	d.Start()

	require.NoError(t, d.Enqueue(&domain.Movement{ID: uuid.New()}))
	assert.True(t, <-deadlines)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_StopHonoursContext(t *testing.T) {
	started := make(chan struct{})
	d := NewDispatcher(evaluatorFunc(func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), config.FraudConfig{Workers: 1, QueueSize: 1}, logger.NewNop())
	d.Start()
	require.NoError(t, d.Enqueue(&domain.Movement{ID: uuid.New()}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	var mu sync.Mutex
	var seen []uuid.UUID
	d := NewDispatcher(evaluatorFunc(func(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
		mu.Lock()
		seen = append(seen, m.ID)
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return nil, nil
	}), config.FraudConfig{Workers: 1, QueueSize: 4}, logger.NewNop())
	d.Start()
	require.NoError(t, d.Enqueue(&domain.Movement{ID: uuid.New()}))
	require.NoError(t, d.Enqueue(&domain.Movement{ID: uuid.New()}))
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, seen, 2)
}

// Movements posted through the ledger reach the engine after commit.
func TestDispatcher_WiredToLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rules := NewRuleService(store, cache.NewMemoryCache(), time.Minute, logger.NewNop())
	engine := NewEngine(store, rules, nil, config.FraudConfig{}, config.DefaultRiskConfig(), logger.NewNop())
	d := NewDispatcher(engine, config.FraudConfig{Workers: 1, QueueSize: 16, EvalTimeout: 5 * time.Second}, logger.NewNop())
	ledgerSvc := ledger.NewService(store, d, config.LedgerConfig{}, time.Second, logger.NewNop())

	_, err := rules.CreateRule(ctx, &domain.FraudRule{
		Name:       "burst",
		RuleType:   domain.RuleTypeVelocity,
		Conditions: domain.VelocityCondition{WindowMinutes: 10, MaxTransactions: 3},
		Severity:   domain.SeverityHigh,
		IsActive:   true,
	})
	require.NoError(t, err)

	accounts := make([]*domain.Account, 2)
	for i := range accounts {
		accounts[i], err = ledgerSvc.OpenAccount(ctx, ledger.OpenAccountRequest{
			Email:    uuid.NewString() + "@example.com",
			Currency: domain.USD,
		})
		require.NoError(t, err)
	}
	_, err = ledgerSvc.Adjust(ctx, ledger.AdjustRequest{
		AccountID: accounts[0].ID,
		Direction: ledger.Credit,
		Amount:    decimal.NewFromInt(100),
		Currency:  domain.USD,
		Kind:      domain.MovementKindRefund,
	})
	require.NoError(t, err)

	// Single worker, so evaluations run in posting order.
	d.Start()
	var fourth *domain.Movement
	for i := 0; i < 4; i++ {
		time.Sleep(time.Millisecond)
		fourth, err = ledgerSvc.Transfer(ctx, ledger.TransferRequest{
			FromAccountID: accounts[0].ID,
			ToAccountID:   accounts[1].ID,
			Amount:        decimal.NewFromInt(5),
			Currency:      domain.USD,
		})
		require.NoError(t, err)
	}
	require.NoError(t, d.Stop(ctx))

	alerts, err := store.ListAlerts(ctx, domain.AlertStatusOpen, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, fourth.ID, alerts[0].MovementID)
}
