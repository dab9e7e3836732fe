package dispute

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/repository"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

type Reason string

const (
	ReasonFraud            Reason = "fraud"
	ReasonDuplicate        Reason = "duplicate"
	ReasonIncorrectAmount  Reason = "incorrect_amount"
	ReasonGoodsNotReceived Reason = "goods_not_received"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonOther            Reason = "other"
)

// Poster runs balance mutations and row writes in one transaction.
type Poster interface {
	Execute(ctx context.Context, fn func(p *ledger.Posting) error) error
}

type Service struct {
	ledger    Poster
	disputes  repository.DisputeReader
	logger    logger.Logger
	validator *validator.Validator
	now       func() time.Time
}

func NewService(ledger Poster, disputes repository.DisputeReader, log logger.Logger) *Service {
	return &Service{
		ledger:    ledger,
		disputes:  disputes,
		logger:    log,
		validator: validator.New(),
		now:       time.Now,
	}
}

type FileRequest struct {
	AccountID   uuid.UUID `json:"account_id" validate:"required"`
	MovementID  uuid.UUID `json:"movement_id" validate:"required"`
	Reason      Reason    `json:"reason" validate:"required,oneof=fraud duplicate incorrect_amount goods_not_received unauthorized other"`
	Description string    `json:"description,omitempty" validate:"max=1000"`
}

// ResolveRequest settles a dispute; a zero RefundAmount resolves without moving value.
type ResolveRequest struct {
	DisputeID    uuid.UUID       `json:"dispute_id" validate:"required"`
	ResolvedBy   uuid.UUID       `json:"resolved_by" validate:"required"`
	Resolution   string          `json:"resolution" validate:"required,max=1000"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// File opens a dispute on a completed transfer the account is party to.
func (s *Service) File(ctx context.Context, req FileRequest) (*domain.Dispute, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}

	now := s.now().UTC()
	d := &domain.Dispute{
		ID:              uuid.New(),
		FilingAccountID: req.AccountID,
		MovementID:      req.MovementID,
		Reason:          string(req.Reason),
		Description:     req.Description,
		Status:          domain.DisputeStatusOpen,
		RefundAmount:    decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		tx, tctx := p.Tx(), p.Context()

		m, err := tx.LockMovement(tctx, req.MovementID)
		if err != nil {
			return err
		}
		if m.Status != domain.MovementStatusCompleted {
			return errors.ErrMovementNotCompleted
		}
		if m.Kind != domain.MovementKindTransfer {
			return errors.ErrNotDisputable
		}
		if !m.Involves(req.AccountID) {
			return errors.ErrForbidden
		}
		existing, err := tx.FindActiveDispute(tctx, req.AccountID, req.MovementID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.ErrDisputeAlreadyOpen
		}
		return tx.InsertDispute(tctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute filed", map[string]interface{}{
		"dispute_id":  d.ID,
		"movement_id": d.MovementID,
		"account_id":  d.FilingAccountID,
		"reason":      d.Reason,
	})
	return d, nil
}

// Resolve closes the dispute with a resolution. A non-zero refund posts one
// reversal from the original recipient back to the original sender; the
// reversals of a movement never add up to more than its amount.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*domain.Dispute, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	if req.RefundAmount.IsNegative() {
		return nil, errors.ErrInvalidAmount
	}

	var resolved *domain.Dispute
	err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		tx, tctx := p.Tx(), p.Context()

		d, err := tx.LockDispute(tctx, req.DisputeID)
		if err != nil {
			return err
		}
		if !d.Status.Active() {
			return errors.ErrInvalidDisputeStatus
		}

		if req.RefundAmount.IsPositive() {
			reversal, err := s.reverse(p, d, req.RefundAmount)
			if err != nil {
				return err
			}
			d.ReversalMovementID = &reversal.ID
		}

		now := s.now().UTC()
		resolvedBy := req.ResolvedBy
		d.Status = domain.DisputeStatusResolved
		d.Resolution = req.Resolution
		d.RefundAmount = req.RefundAmount
		d.ResolvedBy = &resolvedBy
		d.ResolvedAt = &now
		if err := tx.UpdateDispute(tctx, d); err != nil {
			return err
		}
		resolved = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute resolved", map[string]interface{}{
		"dispute_id":    resolved.ID,
		"refund_amount": resolved.RefundAmount.String(),
		"resolved_by":   req.ResolvedBy,
	})
	return resolved, nil
}

func (s *Service) reverse(p *ledger.Posting, d *domain.Dispute, refund decimal.Decimal) (*domain.Movement, error) {
	tx, tctx := p.Tx(), p.Context()

	original, err := tx.LockMovement(tctx, d.MovementID)
	if err != nil {
		return nil, err
	}
	if original.FromAccountID == nil || original.ToAccountID == nil {
		return nil, errors.ErrNotDisputable
	}
	if refund.GreaterThan(original.Amount) {
		return nil, errors.ErrRefundExceedsAmount
	}
	reversed, err := tx.SumReversals(tctx, original.ID)
	if err != nil {
		return nil, err
	}
	if reversed.Add(refund).GreaterThan(original.Amount) {
		return nil, errors.ErrRefundExceedsAmount
	}

	originalID := original.ID
	return p.Transfer(ledger.TransferRequest{
		FromAccountID:        *original.ToAccountID,
		ToAccountID:          *original.FromAccountID,
		Amount:               refund,
		Currency:             original.Currency,
		Kind:                 domain.MovementKindReversal,
		ReversalOfMovementID: &originalID,
		Description:          "dispute " + d.ID.String() + " reversal",
	})
}

// StartReview moves an open dispute to in_progress.
func (s *Service) StartReview(ctx context.Context, id, reviewer uuid.UUID) (*domain.Dispute, error) {
	return s.transition(ctx, id, func(d *domain.Dispute) error {
		if d.Status != domain.DisputeStatusOpen {
			return errors.ErrInvalidDisputeStatus
		}
		d.Status = domain.DisputeStatusInProgress
		return nil
	}, "Dispute review started", reviewer)
}

// Close ends an active dispute without a refund.
func (s *Service) Close(ctx context.Context, id, closedBy uuid.UUID, resolution string) (*domain.Dispute, error) {
	return s.transition(ctx, id, func(d *domain.Dispute) error {
		if !d.Status.Active() {
			return errors.ErrInvalidDisputeStatus
		}
		now := s.now().UTC()
		d.Status = domain.DisputeStatusClosed
		d.Resolution = resolution
		d.ResolvedBy = &closedBy
		d.ResolvedAt = &now
		return nil
	}, "Dispute closed", closedBy)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, apply func(d *domain.Dispute) error, msg string, actor uuid.UUID) (*domain.Dispute, error) {
	var out *domain.Dispute
	err := s.ledger.Execute(ctx, func(p *ledger.Posting) error {
		d, err := p.Tx().LockDispute(p.Context(), id)
		if err != nil {
			return err
		}
		if err := apply(d); err != nil {
			return err
		}
		if err := p.Tx().UpdateDispute(p.Context(), d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(msg, map[string]interface{}{
		"dispute_id": id,
		"actor":      actor,
		"status":     out.Status,
	})
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	return s.disputes.GetDispute(ctx, id)
}
