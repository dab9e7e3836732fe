package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/cache"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

const (
	rulesGenerationKey = "fraud:rules:generation"
	activeRulesPrefix  = "fraud:rules:active:"
)

// RuleService administers fraud rules and alerts. The active rule set is
// cached under the current rule generation; every rule write starts a new one.
type RuleService struct {
	store  repository.FraudStore
	cache  cache.Cache
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
}

func NewRuleService(store repository.FraudStore, c cache.Cache, ttl time.Duration, log logger.Logger) *RuleService {
	return &RuleService{store: store, cache: c, ttl: ttl, logger: log, now: time.Now}
}

// ActiveRules returns the active rules, from cache when possible.
func (s *RuleService) ActiveRules(ctx context.Context) ([]*domain.FraudRule, error) {
	var key string
	if s.cache != nil {
		gen, err := s.generation(ctx)
		if err != nil {
			s.logger.Warn("Rule cache read failed", map[string]interface{}{"error": err})
		} else {
			key = activeRulesPrefix + gen
			var cached []*domain.FraudRule
			err := s.cache.Get(ctx, key, &cached)
			if err == nil {
				return cached, nil
			}
			if !errors.Is(err, cache.ErrMiss) {
				s.logger.Warn("Rule cache read failed", map[string]interface{}{"error": err})
			}
		}
	}

	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to load fraud rules")
	}

	// A write that landed during the load moved the generation on, so this
	// entry is never read.
	if key != "" {
		if err := s.cache.Set(ctx, key, rules, s.ttl); err != nil {
			s.logger.Warn("Rule cache write failed", map[string]interface{}{"error": err})
		}
	}
	return rules, nil
}

func (s *RuleService) generation(ctx context.Context) (string, error) {
	var gen string
	err := s.cache.Get(ctx, rulesGenerationKey, &gen)
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return "", err
	}
	if _, err := s.cache.SetNX(ctx, rulesGenerationKey, uuid.NewString(), 0); err != nil {
		return "", err
	}
	err = s.cache.Get(ctx, rulesGenerationKey, &gen)
	return gen, err
}

func (s *RuleService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, rulesGenerationKey, uuid.NewString(), 0); err != nil {
		s.logger.Warn("Rule cache invalidation failed", map[string]interface{}{"error": err})
	}
}

func (s *RuleService) CreateRule(ctx context.Context, rule *domain.FraudRule) (*domain.FraudRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	s.logger.Info("Fraud rule created", map[string]interface{}{
		"rule_id":   rule.ID,
		"rule_type": rule.RuleType,
		"severity":  rule.Severity,
		"active":    rule.IsActive,
	})
	return rule, nil
}

// UpdateRule replaces the definition of an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, id uuid.UUID, rule *domain.FraudRule) (*domain.FraudRule, error) {
	rule.ID = id
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	s.logger.Info("Fraud rule updated", map[string]interface{}{
		"rule_id": rule.ID,
	})
	return rule, nil
}

func (s *RuleService) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*domain.FraudRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.IsActive = active
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return rule, nil
}

func (s *RuleService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logger.Info("Fraud rule deleted", map[string]interface{}{"rule_id": id})
	return nil
}

func (s *RuleService) GetRule(ctx context.Context, id uuid.UUID) (*domain.FraudRule, error) {
	return s.store.GetRule(ctx, id)
}

func (s *RuleService) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	return s.store.ListRules(ctx, activeOnly)
}

func (s *RuleService) GetAlert(ctx context.Context, id uuid.UUID) (*domain.FraudAlert, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *RuleService) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.FraudAlert, error) {
	switch status {
	case "", domain.AlertStatusOpen, domain.AlertStatusResolved, domain.AlertStatusFalsePositive:
	default:
		return nil, errors.ErrInvalidAlertStatus
	}
	return s.store.ListAlerts(ctx, status, limit)
}

func (s *RuleService) ListMovementAlerts(ctx context.Context, movementID uuid.UUID) ([]*domain.FraudAlert, error) {
	return s.store.ListAlertsByMovement(ctx, movementID)
}

type ReviewRequest struct {
	AlertID    uuid.UUID          `json:"alert_id"`
	ReviewerID uuid.UUID          `json:"reviewer_id"`
	Status     domain.AlertStatus `json:"status"`
	Notes      string             `json:"notes"`
}

// ReviewAlert records the outcome of a manual review of an open alert.
func (s *RuleService) ReviewAlert(ctx context.Context, req ReviewRequest) (*domain.FraudAlert, error) {
	if req.Status != domain.AlertStatusResolved && req.Status != domain.AlertStatusFalsePositive {
		return nil, errors.ErrInvalidAlertStatus
	}
	alert, err := s.store.GetAlert(ctx, req.AlertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != domain.AlertStatusOpen {
		return nil, errors.ErrInvalidAlertStatus
	}

	now := s.now().UTC()
	reviewer := req.ReviewerID
	alert.Status = req.Status
	alert.ReviewedBy = &reviewer
	alert.ReviewNotes = req.Notes
	alert.ReviewedAt = &now
	if err := s.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}

	s.logger.Info("Fraud alert reviewed", map[string]interface{}{
		"alert_id": alert.ID,
		"status":   alert.Status,
		"reviewer": reviewer,
	})
	return alert, nil
}
