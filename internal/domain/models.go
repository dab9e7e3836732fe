// Package domain re-exports core domain types so internal code can import
// `paycore/internal/domain` while using definitions from `paycore/pkg/domain`.
package domain

import pkg "paycore/pkg/domain"

// Currency represents a currency code.
type Currency = pkg.Currency

// Account represents a balance-holding account.
type Account = pkg.Account

// AccountStatus represents the lifecycle state of an account.
type AccountStatus = pkg.AccountStatus

// KYCState represents the identity verification state of an account.
type KYCState = pkg.KYCState

// Movement represents a ledger movement.
type Movement = pkg.Movement

// MovementKind represents categories of movements.
type MovementKind = pkg.MovementKind

// MovementStatus represents movement lifecycle states.
type MovementStatus = pkg.MovementStatus

// Origin is the request fingerprint of a movement.
type Origin = pkg.Origin

// EscrowHold represents value held for an email recipient.
type EscrowHold = pkg.EscrowHold

// HoldStatus represents escrow hold lifecycle states.
type HoldStatus = pkg.HoldStatus

// Dispute represents a reversal claim against a movement.
type Dispute = pkg.Dispute

// DisputeStatus represents dispute lifecycle states.
type DisputeStatus = pkg.DisputeStatus

// Metadata holds arbitrary key-value metadata.
type Metadata = pkg.Metadata

// Re-exported currency codes.
const (
	USD = pkg.USD
	EUR = pkg.EUR
	MWK = pkg.MWK
	CNY = pkg.CNY
)

// Re-exported account statuses.
const (
	AccountStatusActive    = pkg.AccountStatusActive
	AccountStatusSuspended = pkg.AccountStatusSuspended
	AccountStatusDeleted   = pkg.AccountStatusDeleted
)

// Re-exported KYC states.
const (
	KYCStateNone     = pkg.KYCStateNone
	KYCStatePending  = pkg.KYCStatePending
	KYCStateVerified = pkg.KYCStateVerified
	KYCStateRejected = pkg.KYCStateRejected
)

// Re-exported movement kinds.
const (
	MovementKindTransfer             = pkg.MovementKindTransfer
	MovementKindEmailClaim           = pkg.MovementKindEmailClaim
	MovementKindRefund               = pkg.MovementKindRefund
	MovementKindReversal             = pkg.MovementKindReversal
	MovementKindWithdrawalSettlement = pkg.MovementKindWithdrawalSettlement
	MovementKindEscrowHold           = pkg.MovementKindEscrowHold
	MovementKindDeposit              = pkg.MovementKindDeposit
)

// Re-exported movement statuses.
const (
	MovementStatusPending   = pkg.MovementStatusPending
	MovementStatusCompleted = pkg.MovementStatusCompleted
	MovementStatusFailed    = pkg.MovementStatusFailed
)

// Re-exported hold statuses.
const (
	HoldStatusPending   = pkg.HoldStatusPending
	HoldStatusClaimed   = pkg.HoldStatusClaimed
	HoldStatusCancelled = pkg.HoldStatusCancelled
	HoldStatusExpired   = pkg.HoldStatusExpired
)

// Re-exported dispute statuses.
const (
	DisputeStatusOpen       = pkg.DisputeStatusOpen
	DisputeStatusInProgress = pkg.DisputeStatusInProgress
	DisputeStatusResolved   = pkg.DisputeStatusResolved
	DisputeStatusClosed     = pkg.DisputeStatusClosed
)

// EmailMatches compares two emails case-insensitively.
func EmailMatches(a, b string) bool { return pkg.EmailMatches(a, b) }
