package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	MWK Currency = "MWK" // Malawi Kwacha
	CNY Currency = "CNY" // Chinese Yuan
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusDeleted   AccountStatus = "deleted"
)

type KYCState string

const (
	KYCStateNone     KYCState = "none"
	KYCStatePending  KYCState = "pending"
	KYCStateVerified KYCState = "verified"
	KYCStateRejected KYCState = "rejected"
)

// Account holds a single-currency stable-value balance.
type Account struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Email     string          `json:"email" db:"email"`
	Currency  Currency        `json:"currency" db:"currency"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Status    AccountStatus   `json:"status" db:"status"`
	KYCState  KYCState        `json:"kyc_state" db:"kyc_state"`
	Flagged   bool            `json:"flagged" db:"flagged"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CanDebit reports whether value may leave the account for a movement of the given kind.
// Reversals are administrative and may still pull from a suspended account.
func (a *Account) CanDebit(kind MovementKind) bool {
	switch a.Status {
	case AccountStatusActive:
		return true
	case AccountStatusSuspended:
		return kind == MovementKindReversal
	default:
		return false
	}
}

// CanCredit reports whether value may land on the account for a movement of the given kind.
// A deleted account still takes refunds so that held value returns to its origin.
func (a *Account) CanCredit(kind MovementKind) bool {
	switch a.Status {
	case AccountStatusActive:
		return true
	case AccountStatusSuspended:
		return kind == MovementKindRefund || kind == MovementKindReversal
	case AccountStatusDeleted:
		return kind == MovementKindRefund
	default:
		return false
	}
}

// EmailMatches compares emails case-insensitively, ignoring surrounding whitespace.
func EmailMatches(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

type MovementKind string

const (
	MovementKindTransfer             MovementKind = "transfer"
	MovementKindEmailClaim           MovementKind = "email_claim"
	MovementKindRefund               MovementKind = "refund"
	MovementKindReversal             MovementKind = "reversal"
	MovementKindWithdrawalSettlement MovementKind = "withdrawal_settlement"
	MovementKindEscrowHold           MovementKind = "escrow_hold"
	MovementKindDeposit              MovementKind = "deposit"
)

type MovementStatus string

const (
	MovementStatusPending   MovementStatus = "pending"
	MovementStatusCompleted MovementStatus = "completed"
	MovementStatusFailed    MovementStatus = "failed"
)

// Origin is the request fingerprint captured for fraud evaluation.
type Origin struct {
	IP        string `json:"origin_ip,omitempty" db:"origin_ip"`
	UserAgent string `json:"origin_user_agent,omitempty" db:"origin_user_agent"`
	Country   string `json:"origin_country,omitempty" db:"origin_country"`
}

// Movement is one immutable entry in the ledger. A nil FromAccountID is a credit from
// outside the ledger, a nil ToAccountID is a debit to outside the ledger.
type Movement struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	FromAccountID        *uuid.UUID      `json:"from_account_id,omitempty" db:"from_account_id"`
	ToAccountID          *uuid.UUID      `json:"to_account_id,omitempty" db:"to_account_id"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Currency             Currency        `json:"currency" db:"currency"`
	Kind                 MovementKind    `json:"kind" db:"kind"`
	Status               MovementStatus  `json:"status" db:"status"`
	StatusReason         string          `json:"status_reason,omitempty" db:"status_reason"`
	IdempotencyKey       *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	EscrowHoldID         *uuid.UUID      `json:"escrow_hold_id,omitempty" db:"escrow_hold_id"`
	ReversalOfMovementID *uuid.UUID      `json:"reversal_of_movement_id,omitempty" db:"reversal_of_movement_id"`
	Flagged              bool            `json:"flagged" db:"flagged"`
	FlagReason           string          `json:"flag_reason,omitempty" db:"flag_reason"`
	Description          string          `json:"description,omitempty" db:"description"`
	Metadata             Metadata        `json:"metadata,omitempty" db:"metadata"`
	Origin
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// SubjectAccountID is the account a movement is attributed to for fraud and risk:
// the sender when there is one, otherwise the recipient.
func (m *Movement) SubjectAccountID() (uuid.UUID, bool) {
	if m.FromAccountID != nil {
		return *m.FromAccountID, true
	}
	if m.ToAccountID != nil {
		return *m.ToAccountID, true
	}
	return uuid.Nil, false
}

// Involves reports whether the account is either party of the movement.
func (m *Movement) Involves(accountID uuid.UUID) bool {
	return (m.FromAccountID != nil && *m.FromAccountID == accountID) ||
		(m.ToAccountID != nil && *m.ToAccountID == accountID)
}

type HoldStatus string

const (
	HoldStatusPending   HoldStatus = "pending"
	HoldStatusClaimed   HoldStatus = "claimed"
	HoldStatusCancelled HoldStatus = "cancelled"
	HoldStatusExpired   HoldStatus = "expired"
)

// EscrowHold is value debited from a sender and held for a recipient identified by email.
type EscrowHold struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	SenderAccountID      uuid.UUID       `json:"sender_account_id" db:"sender_account_id"`
	RecipientEmail       string          `json:"recipient_email" db:"recipient_email"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Currency             Currency        `json:"currency" db:"currency"`
	ClaimCode            string          `json:"claim_code,omitempty" db:"-"`
	ClaimCodeHash        string          `json:"-" db:"claim_code_hash"`
	Status               HoldStatus      `json:"status" db:"status"`
	ExpiresAt            time.Time       `json:"expires_at" db:"expires_at"`
	ClaimedBy            *uuid.UUID      `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt            *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	FundingMovementID    uuid.UUID       `json:"funding_movement_id" db:"funding_movement_id"`
	SettlementMovementID *uuid.UUID      `json:"settlement_movement_id,omitempty" db:"settlement_movement_id"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

type DisputeStatus string

const (
	DisputeStatusOpen       DisputeStatus = "open"
	DisputeStatusInProgress DisputeStatus = "in_progress"
	DisputeStatusResolved   DisputeStatus = "resolved"
	DisputeStatusClosed     DisputeStatus = "closed"
)

// Active reports whether the dispute still blocks a new filing on the same movement.
func (s DisputeStatus) Active() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInProgress
}

// Dispute is a claim by a party of a movement that it should be reversed in whole or part.
type Dispute struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	FilingAccountID    uuid.UUID       `json:"filing_account_id" db:"filing_account_id"`
	MovementID         uuid.UUID       `json:"movement_id" db:"movement_id"`
	Reason             string          `json:"reason" db:"reason"`
	Description        string          `json:"description,omitempty" db:"description"`
	Status             DisputeStatus   `json:"status" db:"status"`
	Resolution         string          `json:"resolution,omitempty" db:"resolution"`
	RefundAmount       decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	ResolvedBy         *uuid.UUID      `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	ReversalMovementID *uuid.UUID      `json:"reversal_movement_id,omitempty" db:"reversal_movement_id"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Metadata is a JSON-compatible map
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("type assertion to []byte failed")
	}
}
