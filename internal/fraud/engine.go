// Package fraud evaluates completed movements against the active rule set.
// Evaluation is detective only: it annotates movements and raises alerts but
// never blocks or reverses value.
package fraud

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/events"
	"paycore/internal/metrics"
	"paycore/internal/repository"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

// Store is the read and annotate surface evaluation needs.
type Store interface {
	repository.AccountReader
	repository.MovementReader
	repository.DisputeReader
	InsertAlert(ctx context.Context, alert *domain.FraudAlert) (bool, error)
	FlagMovement(ctx context.Context, id uuid.UUID, reason string) error
}

// RuleSource yields the currently active rules.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]*domain.FraudRule, error)
}

type Engine struct {
	store       Store
	rules       RuleSource
	publisher   events.AlertPublisher
	riskWeights config.RiskConfig
	maxHistory  time.Duration
	metrics     *metrics.Collector
	logger      logger.Logger
}

func NewEngine(store Store, rules RuleSource, publisher events.AlertPublisher, cfg config.FraudConfig, riskWeights config.RiskConfig, log logger.Logger) *Engine {
	days := cfg.HistoryMaxDays
	if days <= 0 {
		days = 90
	}
	return &Engine{
		store:       store,
		rules:       rules,
		publisher:   publisher,
		riskWeights: riskWeights,
		maxHistory:  time.Duration(days) * 24 * time.Hour,
		logger:      log,
	}
}

func (e *Engine) WithMetrics(m *metrics.Collector) *Engine {
	e.metrics = m
	return e
}

// Evaluate runs every active rule over one snapshot of the subject account's
// history and returns the alerts for the rules that triggered. Alerts are
// unique per (movement, rule), so re-evaluating a movement returns the
// alerts already raised.
func (e *Engine) Evaluate(ctx context.Context, m *domain.Movement) ([]*domain.FraudAlert, error) {
	start := time.Now()
	defer func() { e.metrics.FraudEvaluated(time.Since(start)) }()

	if m.Status != domain.MovementStatusCompleted {
		return nil, nil
	}
	subject, ok := m.SubjectAccountID()
	if !ok {
		return nil, nil
	}

	rules, err := e.rules.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	snap, err := e.snapshot(ctx, m, subject, rules)
	if err != nil {
		return nil, err
	}

	var alerts []*domain.FraudAlert
	var reasons []string
	for _, rule := range rules {
		reason, hit := evaluate(rule.Conditions, snap)
		if !hit {
			continue
		}
		alert := &domain.FraudAlert{
			ID:         uuid.New(),
			MovementID: m.ID,
			AccountID:  subject,
			RuleID:     rule.ID,
			RuleType:   rule.RuleType,
			Severity:   rule.Severity,
			Status:     domain.AlertStatusOpen,
			Reason:     rule.Name + ": " + reason,
			CreatedAt:  time.Now().UTC(),
		}
		created, err := e.store.InsertAlert(ctx, alert)
		if err != nil {
			return alerts, errors.Infrastructure(err, "failed to store fraud alert")
		}
		alerts = append(alerts, alert)
		reasons = append(reasons, alert.Reason)
		if created {
			e.raised(ctx, alert)
		}
	}

	if len(reasons) > 0 {
		if err := e.store.FlagMovement(ctx, m.ID, strings.Join(reasons, "; ")); err != nil {
			return alerts, errors.Infrastructure(err, "failed to flag movement")
		}
	}
	return alerts, nil
}

func (e *Engine) snapshot(ctx context.Context, m *domain.Movement, subject uuid.UUID, rules []*domain.FraudRule) (*snapshot, error) {
	account, err := e.store.GetAccount(ctx, subject)
	if err != nil {
		return nil, err
	}

	riskSince := m.CreatedAt.AddDate(0, 0, -e.riskLookbackDays())
	lookback, needsDisputes := e.lookback(rules)
	since := m.CreatedAt.Add(-lookback)

	all, err := e.store.ListAccountMovements(ctx, subject, since)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to load movement history")
	}
	history := make([]*domain.Movement, 0, len(all))
	for _, h := range all {
		if h.ID == m.ID || !h.CreatedAt.Before(m.CreatedAt) {
			continue
		}
		if s, ok := h.SubjectAccountID(); !ok || s != subject {
			continue
		}
		history = append(history, h)
	}

	snap := &snapshot{
		movement:    m,
		account:     account,
		history:     history,
		riskWeights: e.riskWeights,
		riskSince:   riskSince,
	}
	if needsDisputes {
		n, err := e.store.CountActiveDisputes(ctx, subject)
		if err != nil {
			return nil, errors.Infrastructure(err, "failed to count open disputes")
		}
		snap.openDisputes = n
	}
	return snap, nil
}

// lookback is the widest history window any rule needs, bounded by maxHistory.
func (e *Engine) lookback(rules []*domain.FraudRule) (time.Duration, bool) {
	var widest time.Duration
	needsDisputes := false
	for _, r := range rules {
		var d time.Duration
		switch c := r.Conditions.(type) {
		case domain.VelocityCondition:
			d = time.Duration(c.WindowMinutes) * time.Minute
		case domain.GeographicAnomalyCondition:
			d = time.Duration(c.LookbackDays) * 24 * time.Hour
		case domain.RiskScoreCondition:
			d = time.Duration(e.riskLookbackDays()) * 24 * time.Hour
			needsDisputes = true
		}
		if d > widest {
			widest = d
		}
	}
	if widest > e.maxHistory {
		widest = e.maxHistory
	}
	return widest, needsDisputes
}

func (e *Engine) riskLookbackDays() int {
	if e.riskWeights.LookbackDays > 0 {
		return e.riskWeights.LookbackDays
	}
	return 30
}

func (e *Engine) raised(ctx context.Context, alert *domain.FraudAlert) {
	e.metrics.FraudAlert(string(alert.RuleType), string(alert.Severity))
	e.logger.Warn("Fraud alert raised", map[string]interface{}{
		"alert_id":    alert.ID,
		"movement_id": alert.MovementID,
		"account_id":  alert.AccountID,
		"rule_type":   alert.RuleType,
		"severity":    alert.Severity,
	})
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishAlert(ctx, alert); err != nil {
		e.logger.Error("Failed to publish fraud alert", map[string]interface{}{
			"alert_id": alert.ID,
			"error":    err,
		})
	}
}
