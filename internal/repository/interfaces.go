// Package repository defines the persistence contract of the ledger core.
//
// Every balance mutation happens inside Store.WithTx. Implementations must
// provide row-level exclusive locks for the Lock* methods, held until the
// transaction ends, and must commit all writes of a transaction or none.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
)

type Store interface {
	// WithTx runs fn inside one atomic store transaction. A non-nil error from
	// fn rolls everything back and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	AccountReader
	MovementReader
	EscrowReader
	DisputeReader
	FraudStore

	CreateAccount(ctx context.Context, account *domain.Account) error
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error
	UpdateAccountKYC(ctx context.Context, id uuid.UUID, state domain.KYCState) error
	SetAccountFlagged(ctx context.Context, id uuid.UUID, flagged bool) error

	// RecordFailedMovement appends a failed movement outside of any balance mutation.
	RecordFailedMovement(ctx context.Context, movement *domain.Movement) error
	// FlagMovement annotates a movement with fraud reasons. It is the only
	// write allowed on a completed movement.
	FlagMovement(ctx context.Context, id uuid.UUID, reason string) error

	Ping(ctx context.Context) error
}

type AccountReader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
}

type MovementReader interface {
	GetMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error)
	FindMovementByIdempotencyKey(ctx context.Context, key string) (*domain.Movement, error)
	// ListAccountMovements returns movements where the account is either party,
	// created at or after since, oldest first.
	ListAccountMovements(ctx context.Context, accountID uuid.UUID, since time.Time) ([]*domain.Movement, error)
}

type EscrowReader interface {
	GetHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error)
	// ListExpiredHolds returns pending holds whose expiry is at or before now.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.EscrowHold, error)
}

type DisputeReader interface {
	GetDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	// CountActiveDisputes counts open or in-progress disputes filed by the
	// account or filed against a movement the account is party to.
	CountActiveDisputes(ctx context.Context, accountID uuid.UUID) (int, error)
}

type FraudStore interface {
	CreateRule(ctx context.Context, rule *domain.FraudRule) error
	UpdateRule(ctx context.Context, rule *domain.FraudRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*domain.FraudRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error

	// InsertAlert stores the alert unless one already exists for the same
	// (movement, rule) pair, in which case alert is overwritten with the stored
	// row and created is false.
	InsertAlert(ctx context.Context, alert *domain.FraudAlert) (created bool, err error)
	GetAlert(ctx context.Context, id uuid.UUID) (*domain.FraudAlert, error)
	UpdateAlert(ctx context.Context, alert *domain.FraudAlert) error
	ListAlertsByMovement(ctx context.Context, movementID uuid.UUID) ([]*domain.FraudAlert, error)
	ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.FraudAlert, error)
}

// Tx is the write surface available inside Store.WithTx.
type Tx interface {
	// LockAccounts takes exclusive locks on the given accounts in ascending id
	// order and returns their current state. Duplicate ids are locked once.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error)
	// DebitAccount subtracts amount, failing with ErrInsufficientBalance when
	// the balance would become negative.
	DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	// InsertMovement fails with ErrDuplicateMovement on an idempotency key conflict.
	InsertMovement(ctx context.Context, movement *domain.Movement) error

	LockMovement(ctx context.Context, id uuid.UUID) (*domain.Movement, error)
	// SumReversals totals completed reversal movements of the given movement.
	SumReversals(ctx context.Context, movementID uuid.UUID) (decimal.Decimal, error)

	InsertHold(ctx context.Context, hold *domain.EscrowHold) error
	LockHold(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error)
	LockHoldByClaimCodeHash(ctx context.Context, hash string) (*domain.EscrowHold, error)
	UpdateHold(ctx context.Context, hold *domain.EscrowHold) error

	// InsertDispute fails with ErrDisputeAlreadyOpen when an active dispute
	// exists for the same (filing account, movement) pair.
	InsertDispute(ctx context.Context, dispute *domain.Dispute) error
	LockDispute(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	UpdateDispute(ctx context.Context, dispute *domain.Dispute) error
	// FindActiveDispute returns nil when no active dispute exists for the pair.
	FindActiveDispute(ctx context.Context, accountID, movementID uuid.UUID) (*domain.Dispute, error)
}
