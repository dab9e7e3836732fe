package risk

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/internal/repository"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

// RiskScore represents the calculated risk of an account (0-100)
type RiskScore int

const (
	RiskScoreLow      RiskScore = 0
	RiskScoreMedium   RiskScore = 50
	RiskScoreHigh     RiskScore = 80
	RiskScoreCritical RiskScore = 100
)

type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelOf buckets a score.
func LevelOf(score int) Level {
	switch s := RiskScore(score); {
	case s >= RiskScoreCritical:
		return LevelCritical
	case s >= RiskScoreHigh:
		return LevelHigh
	case s >= RiskScoreMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Profile is the account history the score is computed from. Counts cover the
// trailing lookback window.
type Profile struct {
	AccountCreatedAt time.Time       `json:"account_created_at"`
	KYCState         domain.KYCState `json:"kyc_state"`
	Flagged          bool            `json:"flagged"`
	FailedMovements  int             `json:"failed_movements"`
	FlaggedMovements int             `json:"flagged_movements"`
	OpenDisputes     int             `json:"open_disputes"`
	MovementCount    int             `json:"movement_count"`
}

// Score is additive over the profile's risk factors and clamped to [0, 100].
func Score(p Profile, w config.RiskConfig, now time.Time) int {
	score := 0

	age := now.Sub(p.AccountCreatedAt)
	switch {
	case age < 7*24*time.Hour:
		score += w.AgeUnder7Days
	case age < 30*24*time.Hour:
		score += w.AgeUnder30Days
	case age < 90*24*time.Hour:
		score += w.AgeUnder90Days
	}

	switch p.KYCState {
	case domain.KYCStateNone, "":
		score += w.KYCNone
	case domain.KYCStatePending:
		score += w.KYCPending
	case domain.KYCStateRejected:
		score += w.KYCRejected
	}

	score += p.FailedMovements * w.PerFailedMovement
	score += p.FlaggedMovements * w.PerFlaggedMovement
	score += p.OpenDisputes * w.PerOpenDispute
	if p.Flagged {
		score += w.FlaggedAccount
	}

	switch {
	case w.VelocityExtremeCount > 0 && p.MovementCount > w.VelocityExtremeCount:
		score += w.VelocityExtremePoints
	case w.VelocityHighCount > 0 && p.MovementCount > w.VelocityHighCount:
		score += w.VelocityHighPoints
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ProfileFrom builds a profile from already-loaded history. Movements are
// attributed to the account when it is their subject.
func ProfileFrom(account *domain.Account, movements []*domain.Movement, openDisputes int, since time.Time) Profile {
	p := Profile{
		AccountCreatedAt: account.CreatedAt,
		KYCState:         account.KYCState,
		Flagged:          account.Flagged,
		OpenDisputes:     openDisputes,
	}
	for _, m := range movements {
		if m.CreatedAt.Before(since) {
			continue
		}
		if subject, ok := m.SubjectAccountID(); !ok || subject != account.ID {
			continue
		}
		p.MovementCount++
		if m.Status == domain.MovementStatusFailed {
			p.FailedMovements++
		}
		if m.Flagged {
			p.FlaggedMovements++
		}
	}
	return p
}

type Reader interface {
	repository.AccountReader
	repository.MovementReader
	repository.DisputeReader
}

type Assessment struct {
	AccountID uuid.UUID `json:"account_id"`
	Score     int       `json:"score"`
	Level     Level     `json:"level"`
	Profile   Profile   `json:"profile"`
}

type Service struct {
	store   Reader
	weights config.RiskConfig
	metrics *metrics.Collector
	logger  logger.Logger
	now     func() time.Time
}

func NewService(store Reader, weights config.RiskConfig, log logger.Logger) *Service {
	return &Service{store: store, weights: weights, logger: log, now: time.Now}
}

func (s *Service) WithMetrics(m *metrics.Collector) *Service {
	s.metrics = m
	return s
}

// Weights returns the configured weights.
func (s *Service) Weights() config.RiskConfig {
	return s.weights
}

// Since is the start of the lookback window ending at now.
func (s *Service) Since(now time.Time) time.Time {
	days := s.weights.LookbackDays
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, -days)
}

// ScoreAccount loads the account's trailing history and scores it.
func (s *Service) ScoreAccount(ctx context.Context, accountID uuid.UUID) (*Assessment, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	since := s.Since(now)

	movements, err := s.store.ListAccountMovements(ctx, accountID, since)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to load movement history")
	}
	disputes, err := s.store.CountActiveDisputes(ctx, accountID)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to count open disputes")
	}

	profile := ProfileFrom(account, movements, disputes, since)
	score := Score(profile, s.weights, now)
	s.metrics.RiskScore(score)

	s.logger.Debug("Risk score computed", map[string]interface{}{
		"account_id": accountID,
		"score":      score,
	})
	return &Assessment{
		AccountID: accountID,
		Score:     score,
		Level:     LevelOf(score),
		Profile:   profile,
	}, nil
}
