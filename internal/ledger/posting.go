package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/repository"
	"paycore/pkg/errors"
)

// Posting is the balance-mutation primitive bound to one open store transaction.
type Posting struct {
	s         *Service
	ctx       context.Context
	tx        repository.Tx
	movements []*domain.Movement
}

// Tx exposes the open transaction for writes that must commit with the postings.
func (p *Posting) Tx() repository.Tx {
	return p.tx
}

// Context returns the transaction-scoped context.
func (p *Posting) Context() context.Context {
	return p.ctx
}

// Transfer moves value between two ledger accounts.
func (p *Posting) Transfer(req TransferRequest) (*domain.Movement, error) {
	if req.Kind == "" {
		req.Kind = domain.MovementKindTransfer
	}
	if err := p.s.validateTransfer(req); err != nil {
		return nil, err
	}

	accounts, err := p.tx.LockAccounts(p.ctx, req.FromAccountID, req.ToAccountID)
	if err != nil {
		return nil, err
	}
	from, to := accounts[req.FromAccountID], accounts[req.ToAccountID]
	if !from.CanDebit(req.Kind) || !to.CanCredit(req.Kind) {
		return nil, errors.ErrAccountUnavailable
	}
	if from.Currency != req.Currency || to.Currency != req.Currency {
		return nil, errors.ErrCurrencyMismatch
	}

	now := p.s.now().UTC()
	fromID, toID := from.ID, to.ID
	m := &domain.Movement{
		ID:                   uuid.New(),
		FromAccountID:        &fromID,
		ToAccountID:          &toID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Kind:                 req.Kind,
		Status:               domain.MovementStatusCompleted,
		IdempotencyKey:       optionalKey(req.IdempotencyKey),
		ReversalOfMovementID: req.ReversalOfMovementID,
		Description:          req.Description,
		Metadata:             req.Metadata,
		Origin:               req.Origin,
		CreatedAt:            now,
		CompletedAt:          &now,
	}

	if err := p.tx.DebitAccount(p.ctx, from.ID, req.Amount); err != nil {
		return nil, err
	}
	if p.s.afterDebit != nil {
		if err := p.s.afterDebit(m); err != nil {
			return nil, err
		}
	}
	if err := p.tx.CreditAccount(p.ctx, to.ID, req.Amount); err != nil {
		return nil, err
	}
	if err := p.tx.InsertMovement(p.ctx, m); err != nil {
		return nil, err
	}

	p.movements = append(p.movements, m)
	p.s.logger.Info("Movement posted", map[string]interface{}{
		"movement_id": m.ID,
		"kind":        m.Kind,
		"from":        from.ID,
		"to":          to.ID,
		"amount":      m.Amount.String(),
	})
	return m, nil
}

// Adjust debits or credits one account against the outside of the ledger.
func (p *Posting) Adjust(req AdjustRequest) (*domain.Movement, error) {
	if err := p.s.validateAdjust(req); err != nil {
		return nil, err
	}

	accounts, err := p.tx.LockAccounts(p.ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	account := accounts[req.AccountID]
	if account.Currency != req.Currency {
		return nil, errors.ErrCurrencyMismatch
	}

	m := adjustMovement(req, p.s.now().UTC())
	switch req.Direction {
	case Debit:
		if !account.CanDebit(req.Kind) {
			return nil, errors.ErrAccountUnavailable
		}
		if err := p.tx.DebitAccount(p.ctx, account.ID, req.Amount); err != nil {
			return nil, err
		}
	case Credit:
		if !account.CanCredit(req.Kind) {
			return nil, errors.ErrAccountUnavailable
		}
		if err := p.tx.CreditAccount(p.ctx, account.ID, req.Amount); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrap(errors.ErrInvalidRequest, "unknown adjustment direction")
	}

	if err := p.tx.InsertMovement(p.ctx, m); err != nil {
		return nil, err
	}

	p.movements = append(p.movements, m)
	p.s.logger.Info("Adjustment posted", map[string]interface{}{
		"movement_id": m.ID,
		"kind":        m.Kind,
		"account_id":  account.ID,
		"direction":   req.Direction,
		"amount":      m.Amount.String(),
	})
	return m, nil
}

func adjustMovement(req AdjustRequest, now time.Time) *domain.Movement {
	accountID := req.AccountID
	m := &domain.Movement{
		ID:             uuid.New(),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Kind:           req.Kind,
		Status:         domain.MovementStatusCompleted,
		IdempotencyKey: optionalKey(req.IdempotencyKey),
		EscrowHoldID:   req.EscrowHoldID,
		Description:    req.Description,
		Metadata:       req.Metadata,
		Origin:         req.Origin,
		CreatedAt:      now,
		CompletedAt:    &now,
	}
	if req.Direction == Debit {
		m.FromAccountID = &accountID
	} else {
		m.ToAccountID = &accountID
	}
	return m
}

func optionalKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}
