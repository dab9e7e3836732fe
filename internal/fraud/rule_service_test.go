package fraud

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
	"paycore/internal/repository/memory"
	"paycore/pkg/cache"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

func newRuleService(t *testing.T) (*RuleService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewRuleService(store, cache.NewMemoryCache(), time.Hour, logger.NewNop()), store
}

func amountRule(threshold int64) *domain.FraudRule {
	return &domain.FraudRule{
		Name:       "large",
		RuleType:   domain.RuleTypeAmountThreshold,
		Conditions: domain.AmountThresholdCondition{Threshold: decimal.NewFromInt(threshold)},
		Severity:   domain.SeverityMedium,
		IsActive:   true,
	}
}

func TestRuleService_CreateRuleValidates(t *testing.T) {
	svc, _ := newRuleService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rule *domain.FraudRule
	}{
		{"missing name", &domain.FraudRule{RuleType: domain.RuleTypeVelocity, Conditions: domain.VelocityCondition{WindowMinutes: 1, MaxTransactions: 1}, Severity: domain.SeverityLow}},
		{"bad severity", &domain.FraudRule{Name: "x", RuleType: domain.RuleTypeVelocity, Conditions: domain.VelocityCondition{WindowMinutes: 1, MaxTransactions: 1}, Severity: "extreme"}},
		{"no conditions", &domain.FraudRule{Name: "x", RuleType: domain.RuleTypeVelocity, Severity: domain.SeverityLow}},
		{"type mismatch", &domain.FraudRule{Name: "x", RuleType: domain.RuleTypeVelocity, Conditions: domain.RiskScoreCondition{MinScore: 50}, Severity: domain.SeverityLow}},
		{"zero window", &domain.FraudRule{Name: "x", RuleType: domain.RuleTypeVelocity, Conditions: domain.VelocityCondition{MaxTransactions: 1}, Severity: domain.SeverityLow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, tt.rule)
			assert.ErrorIs(t, err, errors.ErrInvalidRule)
		})
	}

	rules, err := svc.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleService_ActiveRulesCached(t *testing.T) {
	svc, store := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, amountRule(500))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	active, err := svc.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	cond, ok := active[0].Conditions.(domain.AmountThresholdCondition)
	require.True(t, ok)
	assert.True(t, cond.Threshold.Equal(decimal.NewFromInt(500)))

	// A write that bypasses the service is not visible until invalidation.
	bypass := amountRule(900)
	bypass.ID = created.ID
	require.NoError(t, store.UpdateRule(ctx, bypass))

	active, err = svc.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Conditions.(domain.AmountThresholdCondition).Threshold.Equal(decimal.NewFromInt(500)))

	_, err = svc.SetRuleActive(ctx, created.ID, false)
	require.NoError(t, err)

	active, err = svc.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.UpdateRule(ctx, created.ID, amountRule(700))
	require.NoError(t, err)
	active, err = svc.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Conditions.(domain.AmountThresholdCondition).Threshold.Equal(decimal.NewFromInt(700)))
}

// pausedRules holds the first ListRules call open until released.
type pausedRules struct {
	*memory.Store
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausedRules) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	rules, err := p.Store.ListRules(ctx, activeOnly)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return rules, err
}

func TestRuleService_LoadRacingWriteDoesNotCacheStaleRules(t *testing.T) {
	store := &pausedRules{Store: memory.NewStore(), loaded: make(chan struct{}), release: make(chan struct{})}
	svc := NewRuleService(store, cache.NewMemoryCache(), time.Hour, logger.NewNop())
	ctx := context.Background()

	stale := make(chan []*domain.FraudRule, 1)
	go func() {
		rules, err := svc.ActiveRules(ctx)
		assert.NoError(t, err)
		stale <- rules
	}()

	<-store.loaded
	_, err := svc.CreateRule(ctx, amountRule(300))
	require.NoError(t, err)
	close(store.release)
	assert.Empty(t, <-stale)

	active, err := svc.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRuleService_DeleteRule(t *testing.T) {
	svc, _ := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, amountRule(100))
	require.NoError(t, err)
	_, err = svc.ActiveRules(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(ctx, created.ID))
	active, err := svc.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, svc.DeleteRule(ctx, created.ID), errors.ErrRuleNotFound)
	_, err = svc.GetRule(ctx, created.ID)
	assert.ErrorIs(t, err, errors.ErrRuleNotFound)
	_, err = svc.UpdateRule(ctx, created.ID, amountRule(100))
	assert.ErrorIs(t, err, errors.ErrRuleNotFound)
}

func seedAlert(t *testing.T, store *memory.Store) *domain.FraudAlert {
	t.Helper()
	alert := &domain.FraudAlert{
		ID:         uuid.New(),
		MovementID: uuid.New(),
		AccountID:  uuid.New(),
		RuleID:     uuid.New(),
		RuleType:   domain.RuleTypeAmountThreshold,
		Severity:   domain.SeverityHigh,
		Status:     domain.AlertStatusOpen,
		Reason:     "large: amount 900 at or above threshold 500",
	}
	created, err := store.InsertAlert(context.Background(), alert)
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func TestRuleService_ReviewAlert(t *testing.T) {
	svc, store := newRuleService(t)
	ctx := context.Background()
	reviewedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return reviewedAt }

	alert := seedAlert(t, store)
	reviewer := uuid.New()

	_, err := svc.ReviewAlert(ctx, ReviewRequest{AlertID: alert.ID, ReviewerID: reviewer, Status: domain.AlertStatusOpen})
	assert.ErrorIs(t, err, errors.ErrInvalidAlertStatus)

	_, err = svc.ReviewAlert(ctx, ReviewRequest{AlertID: uuid.New(), ReviewerID: reviewer, Status: domain.AlertStatusResolved})
	assert.ErrorIs(t, err, errors.ErrAlertNotFound)

	reviewed, err := svc.ReviewAlert(ctx, ReviewRequest{
		AlertID:    alert.ID,
		ReviewerID: reviewer,
		Status:     domain.AlertStatusFalsePositive,
		Notes:      "known merchant",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusFalsePositive, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, reviewer, *reviewed.ReviewedBy)
	require.NotNil(t, reviewed.ReviewedAt)
	assert.True(t, reviewedAt.Equal(*reviewed.ReviewedAt))

	stored, err := svc.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "known merchant", stored.ReviewNotes)

	_, err = svc.ReviewAlert(ctx, ReviewRequest{AlertID: alert.ID, ReviewerID: reviewer, Status: domain.AlertStatusResolved})
	assert.ErrorIs(t, err, errors.ErrInvalidAlertStatus)
}

func TestRuleService_ListAlerts(t *testing.T) {
	svc, store := newRuleService(t)
	ctx := context.Background()

	first := seedAlert(t, store)
	seedAlert(t, store)
	_, err := svc.ReviewAlert(ctx, ReviewRequest{AlertID: first.ID, ReviewerID: uuid.New(), Status: domain.AlertStatusResolved})
	require.NoError(t, err)

	open, err := svc.ListAlerts(ctx, domain.AlertStatusOpen, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	all, err := svc.ListAlerts(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListAlerts(ctx, "pending", 0)
	assert.ErrorIs(t, err, errors.ErrInvalidAlertStatus)

	byMovement, err := svc.ListMovementAlerts(ctx, first.MovementID)
	require.NoError(t, err)
	require.Len(t, byMovement, 1)
	assert.Equal(t, first.ID, byMovement[0].ID)
}
