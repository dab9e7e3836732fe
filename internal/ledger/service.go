// ==============================================================================
// LEDGER SERVICE - internal/ledger/service.go
// ==============================================================================
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/internal/repository"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

// Dispatcher receives completed movements for asynchronous fraud evaluation.
// Enqueue must not block.
type Dispatcher interface {
	Enqueue(movement *domain.Movement) error
}

type Service struct {
	store      repository.Store
	dispatcher Dispatcher
	metrics    *metrics.Collector
	logger     logger.Logger
	validator  *validator.Validator
	maxAmount  decimal.Decimal
	txTimeout  time.Duration
	now        func() time.Time

	// afterDebit runs between the debit and the credit of a transfer.
	afterDebit func(m *domain.Movement) error
}

func NewService(store repository.Store, dispatcher Dispatcher, cfg config.LedgerConfig, txTimeout time.Duration, log logger.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     log,
		validator:  validator.New(),
		maxAmount:  cfg.MaxTransactionAmount,
		txTimeout:  txTimeout,
		now:        time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.Collector) *Service {
	s.metrics = m
	return s
}

type TransferRequest struct {
	FromAccountID        uuid.UUID           `json:"from_account_id" validate:"required"`
	ToAccountID          uuid.UUID           `json:"to_account_id" validate:"required"`
	Amount               decimal.Decimal     `json:"amount" validate:"required"`
	Currency             domain.Currency     `json:"currency" validate:"required,currency"`
	Kind                 domain.MovementKind `json:"kind,omitempty" validate:"omitempty,oneof=transfer reversal"`
	IdempotencyKey       string              `json:"idempotency_key,omitempty" validate:"max=128"`
	ReversalOfMovementID *uuid.UUID          `json:"reversal_of_movement_id,omitempty"`
	Description          string              `json:"description,omitempty" validate:"max=500"`
	Origin               domain.Origin       `json:"origin"`
	Metadata             domain.Metadata     `json:"metadata,omitempty"`
}

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// AdjustRequest moves value between one account and the outside of the ledger.
type AdjustRequest struct {
	AccountID      uuid.UUID           `json:"account_id" validate:"required"`
	Direction      Direction           `json:"direction" validate:"required,oneof=debit credit"`
	Amount         decimal.Decimal     `json:"amount" validate:"required"`
	Currency       domain.Currency     `json:"currency" validate:"required,currency"`
	Kind           domain.MovementKind `json:"kind" validate:"required,oneof=email_claim refund withdrawal_settlement escrow_hold deposit"`
	IdempotencyKey string              `json:"idempotency_key,omitempty" validate:"max=128"`
	EscrowHoldID   *uuid.UUID          `json:"escrow_hold_id,omitempty"`
	Description    string              `json:"description,omitempty" validate:"max=500"`
	Origin         domain.Origin       `json:"origin"`
	Metadata       domain.Metadata     `json:"metadata,omitempty"`
}

type WithdrawRequest struct {
	AccountID      uuid.UUID       `json:"account_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       domain.Currency `json:"currency" validate:"required,currency"`
	Destination    string          `json:"destination" validate:"required,max=256"`
	Network        string          `json:"network,omitempty" validate:"max=64"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"max=128"`
	Origin         domain.Origin   `json:"origin"`
}

type OpenAccountRequest struct {
	ID       uuid.UUID       `json:"id"`
	Email    string          `json:"email" validate:"required,email"`
	Currency domain.Currency `json:"currency" validate:"required,currency"`
	KYCState domain.KYCState `json:"kyc_state,omitempty" validate:"omitempty,oneof=none pending verified rejected"`
}

// Transfer atomically debits the sender, credits the recipient and appends one movement.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*domain.Movement, error) {
	if req.Kind == "" {
		req.Kind = domain.MovementKindTransfer
	}
	if err := s.validateTransfer(req); err != nil {
		return nil, err
	}
	return s.post(ctx, req.IdempotencyKey, transferMatches(req), failedTransfer(req), func(p *Posting) (*domain.Movement, error) {
		return p.Transfer(req)
	})
}

// Adjust debits or credits a single account against the outside of the ledger.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*domain.Movement, error) {
	if err := s.validateAdjust(req); err != nil {
		return nil, err
	}
	return s.post(ctx, req.IdempotencyKey, adjustMatches(req), failedAdjust(req), func(p *Posting) (*domain.Movement, error) {
		return p.Adjust(req)
	})
}

// Withdraw debits the account for settlement to an external address. The
// settlement itself happens downstream of the ledger.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Movement, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	meta := domain.Metadata{"destination": req.Destination}
	if req.Network != "" {
		meta["network"] = req.Network
	}
	return s.Adjust(ctx, AdjustRequest{
		AccountID:      req.AccountID,
		Direction:      Debit,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Kind:           domain.MovementKindWithdrawalSettlement,
		IdempotencyKey: req.IdempotencyKey,
		Description:    "withdrawal to external address",
		Origin:         req.Origin,
		Metadata:       meta,
	})
}

// Execute runs fn inside one store transaction. Every movement posted through
// the Posting is committed together with any other writes fn makes through
// Posting.Tx, and is dispatched for fraud evaluation only after commit.
func (s *Service) Execute(ctx context.Context, fn func(p *Posting) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var posted []*domain.Movement
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		p := &Posting{s: s, ctx: ctx, tx: tx}
		if err := fn(p); err != nil {
			return err
		}
		posted = p.movements
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range posted {
		s.metrics.MovementPosted(string(m.Kind))
		s.dispatch(m)
	}
	return nil
}

// post runs fn under the idempotency key. A key already used by a movement
// that matches the request replays it; any other use of the key is a conflict.
func (s *Service) post(ctx context.Context, key string, matches func(*domain.Movement) bool, failed func(now time.Time) *domain.Movement, fn func(p *Posting) (*domain.Movement, error)) (*domain.Movement, error) {
	if key != "" {
		existing, err := s.store.FindMovementByIdempotencyKey(ctx, key)
		if err == nil {
			if !matches(existing) {
				return nil, errors.ErrDuplicateMovement
			}
			s.logger.Info("Idempotent replay of movement", map[string]interface{}{
				"movement_id":     existing.ID,
				"idempotency_key": key,
			})
			return existing, nil
		}
		if !errors.Is(err, errors.ErrMovementNotFound) {
			return nil, errors.Infrastructure(err, "failed to check idempotency key")
		}
	}

	var movement *domain.Movement
	err := s.Execute(ctx, func(p *Posting) error {
		m, err := fn(p)
		movement = m
		return err
	})
	if err == nil {
		return movement, nil
	}

	if key != "" && errors.Is(err, errors.ErrDuplicateMovement) {
		// Lost the race on the unique index; the winner's movement is the answer.
		existing, findErr := s.store.FindMovementByIdempotencyKey(ctx, key)
		if findErr == nil {
			if !matches(existing) {
				return nil, errors.ErrDuplicateMovement
			}
			return existing, nil
		}
		return nil, errors.Infrastructure(findErr, "failed to load movement after idempotency conflict")
	}

	s.recordFailure(ctx, failed(s.now().UTC()), err)
	return nil, err
}

// recordFailure appends a failed movement for state-conflict rejections so the
// risk scorer can count them. It never affects the caller's result.
func (s *Service) recordFailure(ctx context.Context, m *domain.Movement, cause error) {
	code, _ := errors.Public(cause)
	s.metrics.MovementFailed(string(m.Kind), code)

	if !errors.Is(cause, errors.ErrInsufficientBalance) && !errors.Is(cause, errors.ErrAccountUnavailable) {
		return
	}
	m.StatusReason = code
	if err := s.store.RecordFailedMovement(context.WithoutCancel(ctx), m); err != nil {
		s.logger.Warn("Failed to record failed movement", map[string]interface{}{
			"kind":  m.Kind,
			"error": err,
		})
	}
}

func (s *Service) dispatch(m *domain.Movement) {
	if s.dispatcher == nil || m.Status != domain.MovementStatusCompleted {
		return
	}
	if err := s.dispatcher.Enqueue(m); err != nil {
		s.metrics.FraudJobDropped()
		s.logger.Warn("Fraud evaluation dropped", map[string]interface{}{
			"movement_id": m.ID,
			"error":       err,
		})
	}
}

func (s *Service) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if s.maxAmount.IsPositive() && amount.GreaterThan(s.maxAmount) {
		return errors.ErrInvalidAmount
	}
	return nil
}

func (s *Service) validateTransfer(req TransferRequest) error {
	if err := s.checkAmount(req.Amount); err != nil {
		return err
	}
	if req.Kind == domain.MovementKindTransfer && req.FromAccountID == req.ToAccountID {
		return errors.ErrSelfTransferRejected
	}
	if err := s.validator.Validate(req); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	return nil
}

func (s *Service) validateAdjust(req AdjustRequest) error {
	if err := s.checkAmount(req.Amount); err != nil {
		return err
	}
	if req.Kind == domain.MovementKindDeposit && req.Direction != Credit {
		return errors.Wrap(errors.ErrInvalidRequest, "a deposit is always a credit")
	}
	if err := s.validator.Validate(req); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	return nil
}

func transferMatches(req TransferRequest) func(*domain.Movement) bool {
	return func(m *domain.Movement) bool {
		return m.Kind == req.Kind &&
			sameAccount(m.FromAccountID, req.FromAccountID) &&
			sameAccount(m.ToAccountID, req.ToAccountID) &&
			m.Amount.Equal(req.Amount) && m.Currency == req.Currency
	}
}

func adjustMatches(req AdjustRequest) func(*domain.Movement) bool {
	return func(m *domain.Movement) bool {
		party, other := m.ToAccountID, m.FromAccountID
		if req.Direction == Debit {
			party, other = m.FromAccountID, m.ToAccountID
		}
		return m.Kind == req.Kind && other == nil &&
			sameAccount(party, req.AccountID) &&
			m.Amount.Equal(req.Amount) && m.Currency == req.Currency
	}
}

func sameAccount(id *uuid.UUID, want uuid.UUID) bool {
	return id != nil && *id == want
}

func failedTransfer(req TransferRequest) func(now time.Time) *domain.Movement {
	return func(now time.Time) *domain.Movement {
		from, to := req.FromAccountID, req.ToAccountID
		return &domain.Movement{
			ID:                   uuid.New(),
			FromAccountID:        &from,
			ToAccountID:          &to,
			Amount:               req.Amount,
			Currency:             req.Currency,
			Kind:                 req.Kind,
			Status:               domain.MovementStatusFailed,
			ReversalOfMovementID: req.ReversalOfMovementID,
			Description:          req.Description,
			Metadata:             req.Metadata,
			Origin:               req.Origin,
			CreatedAt:            now,
		}
	}
}

func failedAdjust(req AdjustRequest) func(now time.Time) *domain.Movement {
	return func(now time.Time) *domain.Movement {
		m := adjustMovement(req, now)
		m.Status = domain.MovementStatusFailed
		m.IdempotencyKey = nil
		m.CompletedAt = nil
		return m
	}
}

// GetMovement returns a movement by id.
func (s *Service) GetMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error) {
	return s.store.GetMovement(ctx, id)
}

// GetAccount returns an account by id.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// AccountByEmail returns the account registered under the email.
func (s *Service) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.store.GetAccountByEmail(ctx, email)
}

// ListAccountMovements returns the account's movements since the given time.
func (s *Service) ListAccountMovements(ctx context.Context, id uuid.UUID, since time.Time) ([]*domain.Movement, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAccountMovements(ctx, id, since)
}

// OpenAccount creates an empty active account.
func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (*domain.Account, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.KYCState == "" {
		req.KYCState = domain.KYCStateNone
	}
	account := &domain.Account{
		ID:       req.ID,
		Email:    req.Email,
		Currency: req.Currency,
		Balance:  decimal.Zero,
		Status:   domain.AccountStatusActive,
		KYCState: req.KYCState,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("Account opened", map[string]interface{}{
		"account_id": account.ID,
		"currency":   account.Currency,
	})
	return account, nil
}

// SetAccountStatus suspends, reactivates or deletes an account.
func (s *Service) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusSuspended, domain.AccountStatusDeleted:
	default:
		return nil, errors.Wrap(errors.ErrInvalidRequest, "unknown account status")
	}
	if err := s.store.UpdateAccountStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info("Account status changed", map[string]interface{}{
		"account_id": id,
		"status":     status,
	})
	return s.store.GetAccount(ctx, id)
}

// SetAccountKYC records the outcome of an identity check.
func (s *Service) SetAccountKYC(ctx context.Context, id uuid.UUID, state domain.KYCState) (*domain.Account, error) {
	switch state {
	case domain.KYCStateNone, domain.KYCStatePending, domain.KYCStateVerified, domain.KYCStateRejected:
	default:
		return nil, errors.Wrap(errors.ErrInvalidRequest, "unknown kyc state")
	}
	if err := s.store.UpdateAccountKYC(ctx, id, state); err != nil {
		return nil, err
	}
	s.logger.Info("Account KYC state changed", map[string]interface{}{
		"account_id": id,
		"kyc_state":  state,
	})
	return s.store.GetAccount(ctx, id)
}

// SetAccountFlagged marks or clears an operator flag. A flagged account
// scores higher in risk assessment.
func (s *Service) SetAccountFlagged(ctx context.Context, id uuid.UUID, flagged bool) (*domain.Account, error) {
	if err := s.store.SetAccountFlagged(ctx, id, flagged); err != nil {
		return nil, err
	}
	s.logger.Info("Account flag changed", map[string]interface{}{
		"account_id": id,
		"flagged":    flagged,
	})
	return s.store.GetAccount(ctx, id)
}
