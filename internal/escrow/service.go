// ==============================================================================
// ESCROW SERVICE - internal/escrow/service.go
// ==============================================================================
// Claim-by-email holds. The sender is debited when the hold is created; the
// value is credited to whichever account proves the claim code and owns the
// recipient email, or returned to the sender on cancel or expiry.
package escrow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/metrics"
	"paycore/internal/repository"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

const claimCodeBytes = 32

// Poster runs balance mutations and row writes in one transaction.
type Poster interface {
	Execute(ctx context.Context, fn func(p *ledger.Posting) error) error
}

// Reader is the read side used outside a posting transaction.
type Reader interface {
	repository.EscrowReader
	repository.MovementReader
}

type Service struct {
	ledger    Poster
	holds     Reader
	cfg       config.EscrowConfig
	metrics   *metrics.Collector
	logger    logger.Logger
	validator *validator.Validator
	now       func() time.Time
}

func NewService(ledger Poster, holds Reader, cfg config.EscrowConfig, log logger.Logger) *Service {
	return &Service{
		ledger:    ledger,
		holds:     holds,
		cfg:       cfg,
		logger:    log,
		validator: validator.New(),
		now:       time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.Collector) *Service {
	s.metrics = m
	return s
}

// CreateRequest opens a hold; ExpiryDays of zero selects the configured default.
type CreateRequest struct {
	SenderAccountID uuid.UUID       `json:"sender_account_id" validate:"required"`
	RecipientEmail  string          `json:"recipient_email" validate:"required,email"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Currency        domain.Currency `json:"currency" validate:"required,currency"`
	ExpiryDays      int             `json:"expiry_days" validate:"gte=0"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty" validate:"max=128"`
	Origin          domain.Origin   `json:"origin"`
}

type ClaimRequest struct {
	ClaimCode         string        `json:"claim_code" validate:"required"`
	ClaimantAccountID uuid.UUID     `json:"claimant_account_id" validate:"required"`
	Origin            domain.Origin `json:"origin"`
}

// Create debits the sender and opens a pending hold. The returned hold carries
// the plaintext claim code; it is never stored and cannot be recovered later.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.EscrowHold, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	if req.IdempotencyKey != "" {
		hold, err := s.replay(ctx, req)
		if err == nil {
			return hold, nil
		}
		if !errors.Is(err, errors.ErrMovementNotFound) {
			return nil, err
		}
	}
	days := req.ExpiryDays
	if days == 0 {
		days = s.cfg.DefaultExpiryDays
	}
	if s.cfg.MaxExpiryDays > 0 && days > s.cfg.MaxExpiryDays {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "expiry exceeds the maximum hold duration")
	}

	code, err := newClaimCode()
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to generate claim code")
	}

	now := s.now().UTC()
	hold := &domain.EscrowHold{
		ID:              uuid.New(),
		SenderAccountID: req.SenderAccountID,
		RecipientEmail:  req.RecipientEmail,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ClaimCodeHash:   hashClaimCode(code),
		Status:          domain.HoldStatusPending,
		ExpiresAt:       now.AddDate(0, 0, days),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		m, err := p.Adjust(ledger.AdjustRequest{
			AccountID:      req.SenderAccountID,
			Direction:      ledger.Debit,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Kind:           domain.MovementKindEscrowHold,
			IdempotencyKey: req.IdempotencyKey,
			EscrowHoldID:   &hold.ID,
			Description:    "escrow hold for " + req.RecipientEmail,
			Origin:         req.Origin,
		})
		if err != nil {
			return err
		}
		hold.FundingMovementID = m.ID
		return p.Tx().InsertHold(p.Context(), hold)
	})
	if err != nil && req.IdempotencyKey != "" && errors.Is(err, errors.ErrDuplicateMovement) {
		// A concurrent create with the same key committed first.
		if replayed, replayErr := s.replay(ctx, req); replayErr == nil {
			return replayed, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow hold created", map[string]interface{}{
		"hold_id":    hold.ID,
		"sender":     hold.SenderAccountID,
		"amount":     hold.Amount.String(),
		"expires_at": hold.ExpiresAt,
	})

	hold.ClaimCode = code
	return hold, nil
}

// Claim credits the claimant and settles the hold. Concurrent claims of one
// code serialize on the hold row; exactly one succeeds.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*domain.Movement, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}

	var movement *domain.Movement
	var claimed *domain.EscrowHold
	err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		tx, tctx := p.Tx(), p.Context()

		hold, err := tx.LockHoldByClaimCodeHash(tctx, hashClaimCode(req.ClaimCode))
		if err != nil {
			return err
		}
		if err := checkPending(hold); err != nil {
			return err
		}
		now := s.now().UTC()
		if !now.Before(hold.ExpiresAt) {
			return errors.ErrEscrowExpired
		}

		accounts, err := tx.LockAccounts(tctx, req.ClaimantAccountID)
		if err != nil {
			return err
		}
		if !domain.EmailMatches(accounts[req.ClaimantAccountID].Email, hold.RecipientEmail) {
			return errors.ErrEmailMismatch
		}

		m, err := p.Adjust(ledger.AdjustRequest{
			AccountID:    req.ClaimantAccountID,
			Direction:    ledger.Credit,
			Amount:       hold.Amount,
			Currency:     hold.Currency,
			Kind:         domain.MovementKindEmailClaim,
			EscrowHoldID: &hold.ID,
			Description:  "escrow claim",
			Origin:       req.Origin,
		})
		if err != nil {
			return err
		}

		claimant := req.ClaimantAccountID
		hold.Status = domain.HoldStatusClaimed
		hold.ClaimedBy = &claimant
		hold.ClaimedAt = &now
		hold.SettlementMovementID = &m.ID
		if err := tx.UpdateHold(tctx, hold); err != nil {
			return err
		}
		movement, claimed = m, hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow hold claimed", map[string]interface{}{
		"hold_id":     claimed.ID,
		"claimant":    req.ClaimantAccountID,
		"movement_id": movement.ID,
	})
	return movement, nil
}

// Cancel returns a pending hold's value to its sender. Only the sender may cancel.
func (s *Service) Cancel(ctx context.Context, holdID, requester uuid.UUID) (*domain.EscrowHold, error) {
	var cancelled *domain.EscrowHold
	err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		hold, err := p.Tx().LockHold(p.Context(), holdID)
		if err != nil {
			return err
		}
		if hold.SenderAccountID != requester {
			return errors.ErrForbidden
		}
		if hold.Status != domain.HoldStatusPending {
			return errors.ErrInvalidHoldStatus
		}
		if err := s.refund(p, hold, domain.HoldStatusCancelled, "escrow cancelled"); err != nil {
			return err
		}
		cancelled = hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow hold cancelled", map[string]interface{}{
		"hold_id": cancelled.ID,
		"sender":  cancelled.SenderAccountID,
	})
	return cancelled, nil
}

// ExpireDue refunds pending holds whose expiry is at or before now and returns
// how many were expired. A hold that cannot be refunded stays pending and is
// retried on the next sweep.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.holds.ListExpiredHolds(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, errors.Infrastructure(err, "failed to list expired escrow holds")
	}

	expired := 0
	for _, candidate := range due {
		if ctx.Err() != nil {
			break
		}
		err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
			hold, err := p.Tx().LockHold(p.Context(), candidate.ID)
			if err != nil {
				return err
			}
			if hold.Status != domain.HoldStatusPending || hold.ExpiresAt.After(now) {
				return errSkip
			}
			return s.refund(p, hold, domain.HoldStatusExpired, "escrow expired")
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, errSkip):
		default:
			s.logger.Warn("Failed to expire escrow hold", map[string]interface{}{
				"hold_id": candidate.ID,
				"error":   err,
			})
		}
	}

	s.metrics.EscrowExpired(expired)
	if expired > 0 {
		s.logger.Info("Expired escrow holds refunded", map[string]interface{}{
			"count": expired,
		})
	}
	return expired, nil
}

// replay returns the hold already funded under the request's idempotency key.
// The replayed hold has no claim code: only its hash was stored.
func (s *Service) replay(ctx context.Context, req CreateRequest) (*domain.EscrowHold, error) {
	m, err := s.holds.FindMovementByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, errors.ErrMovementNotFound) {
			return nil, err
		}
		return nil, errors.Infrastructure(err, "failed to check idempotency key")
	}
	if m.Kind != domain.MovementKindEscrowHold || m.EscrowHoldID == nil ||
		m.FromAccountID == nil || *m.FromAccountID != req.SenderAccountID ||
		!m.Amount.Equal(req.Amount) || m.Currency != req.Currency {
		return nil, errors.ErrDuplicateMovement
	}
	hold, err := s.holds.GetHold(ctx, *m.EscrowHoldID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Idempotent replay of escrow hold", map[string]interface{}{
		"hold_id":         hold.ID,
		"idempotency_key": req.IdempotencyKey,
	})
	return hold, nil
}

// GetHold returns a hold without its claim code.
func (s *Service) GetHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	return s.holds.GetHold(ctx, id)
}

var errSkip = errors.Wrap(errors.ErrInvalidHoldStatus, "hold no longer due")

func (s *Service) refund(p *ledger.Posting, hold *domain.EscrowHold, status domain.HoldStatus, description string) error {
	m, err := p.Adjust(ledger.AdjustRequest{
		AccountID:    hold.SenderAccountID,
		Direction:    ledger.Credit,
		Amount:       hold.Amount,
		Currency:     hold.Currency,
		Kind:         domain.MovementKindRefund,
		EscrowHoldID: &hold.ID,
		Description:  description,
	})
	if err != nil {
		return err
	}
	hold.Status = status
	hold.SettlementMovementID = &m.ID
	return p.Tx().UpdateHold(p.Context(), hold)
}

func checkPending(hold *domain.EscrowHold) error {
	switch hold.Status {
	case domain.HoldStatusPending:
		return nil
	case domain.HoldStatusClaimed:
		return errors.ErrAlreadyClaimed
	case domain.HoldStatusExpired:
		return errors.ErrEscrowExpired
	default:
		return errors.ErrInvalidHoldStatus
	}
}

func newClaimCode() (string, error) {
	buf := make([]byte, claimCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashClaimCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
