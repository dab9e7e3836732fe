package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

type LedgerHandler struct {
	responder
	service   *ledger.Service
	validator *validator.Validator
}

func NewLedgerHandler(service *ledger.Service, log logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		responder: responder{logger: log},
		service:   service,
		validator: validator.New(),
	}
}

type OpenAccountBody struct {
	ID       *uuid.UUID      `json:"id,omitempty"`
	Email    string          `json:"email,omitempty" validate:"omitempty,email"`
	Currency domain.Currency `json:"currency" validate:"required,currency"`
	KYCState domain.KYCState `json:"kyc_state,omitempty" validate:"omitempty,oneof=none pending verified rejected"`
}

// OpenAccount opens the caller's own account. Admins may open any account and
// set its initial KYC state.
func (h *LedgerHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body OpenAccountBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	req := ledger.OpenAccountRequest{ID: c.AccountID, Email: c.Email, Currency: body.Currency}
	if body.Email != "" {
		req.Email = body.Email
	}
	if c.IsAdmin() {
		if body.ID != nil {
			req.ID = *body.ID
		}
		req.KYCState = body.KYCState
	} else if body.ID != nil && *body.ID != c.AccountID {
		h.respondError(w, r, errors.ErrForbidden)
		return
	}

	account, err := h.service.OpenAccount(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, account)
}

func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownAccount(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, account)
}

// ListMovements returns the account's history, optionally bounded by ?since=RFC3339.
func (h *LedgerHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownAccount(w, r)
	if !ok {
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondValidationErrors(w, map[string]string{"since": "Must be an RFC3339 timestamp"})
			return
		}
		since = t
	}
	movements, err := h.service.ListAccountMovements(r.Context(), id, since)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": movements,
		"count":     len(movements),
	})
}

func (h *LedgerHandler) GetMovement(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !c.IsAdmin() && !isParty(m, c.AccountID) {
		// Hide movements the caller is not party to.
		h.respondError(w, r, errors.ErrMovementNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

type TransferBody struct {
	ToAccountID    uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       domain.Currency `json:"currency" validate:"required,currency"`
	Description    string          `json:"description,omitempty" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"max=64"`
	Metadata       domain.Metadata `json:"metadata,omitempty"`
}

// Transfer moves value from the caller's account to another account.
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body TransferBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	m, err := h.service.Transfer(r.Context(), ledger.TransferRequest{
		FromAccountID:  c.AccountID,
		ToAccountID:    body.ToAccountID,
		Amount:         body.Amount,
		Currency:       body.Currency,
		Kind:           domain.MovementKindTransfer,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		Description:    body.Description,
		Origin:         originOf(r),
		Metadata:       body.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, m)
}

type WithdrawBody struct {
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       domain.Currency `json:"currency" validate:"required,currency"`
	Destination    string          `json:"destination" validate:"required,max=256"`
	Network        string          `json:"network,omitempty" validate:"max=64"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"max=64"`
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body WithdrawBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	m, err := h.service.Withdraw(r.Context(), ledger.WithdrawRequest{
		AccountID:      c.AccountID,
		Amount:         body.Amount,
		Currency:       body.Currency,
		Destination:    body.Destination,
		Network:        body.Network,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		Origin:         originOf(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, m)
}

type AccountStatusBody struct {
	Status domain.AccountStatus `json:"status" validate:"required,oneof=active suspended deleted"`
}

func (h *LedgerHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body AccountStatusBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	account, err := h.service.SetAccountStatus(r.Context(), id, body.Status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, account)
}

type AccountKYCBody struct {
	KYCState domain.KYCState `json:"kyc_state" validate:"required,oneof=none pending verified rejected"`
}

func (h *LedgerHandler) SetAccountKYC(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body AccountKYCBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	account, err := h.service.SetAccountKYC(r.Context(), id, body.KYCState)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, account)
}

type AccountFlagBody struct {
	Flagged *bool `json:"flagged" validate:"required"`
}

// SetAccountFlagged sets or clears the operator flag that feeds the risk score.
func (h *LedgerHandler) SetAccountFlagged(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body AccountFlagBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	account, err := h.service.SetAccountFlagged(r.Context(), id, *body.Flagged)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, account)
}

type AdjustBody struct {
	Direction      ledger.Direction    `json:"direction" validate:"required,oneof=debit credit"`
	Amount         decimal.Decimal     `json:"amount" validate:"required"`
	Currency       domain.Currency     `json:"currency" validate:"required,currency"`
	Kind           domain.MovementKind `json:"kind" validate:"required,oneof=deposit refund withdrawal_settlement"`
	Description    string              `json:"description" validate:"required,max=500"`
	IdempotencyKey string              `json:"idempotency_key,omitempty" validate:"max=64"`
}

// Adjust posts an operator credit or debit against one account.
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body AdjustBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	m, err := h.service.Adjust(r.Context(), ledger.AdjustRequest{
		AccountID:      id,
		Direction:      body.Direction,
		Amount:         body.Amount,
		Currency:       body.Currency,
		Kind:           body.Kind,
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		Description:    body.Description,
		Origin:         originOf(r),
		Metadata:       domain.Metadata{"adjusted_by": c.AccountID.String()},
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, m)
}

// ownAccount resolves the {id} path variable and enforces that non-admin
// callers only read their own account.
func (h *LedgerHandler) ownAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return authorizeAccount(h.responder, w, r)
}

func authorizeAccount(h responder, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return uuid.Nil, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return uuid.Nil, false
	}
	if !c.IsAdmin() && id != c.AccountID {
		h.respondError(w, r, errors.ErrForbidden)
		return uuid.Nil, false
	}
	return id, true
}

func isParty(m *domain.Movement, id uuid.UUID) bool {
	return (m.FromAccountID != nil && *m.FromAccountID == id) ||
		(m.ToAccountID != nil && *m.ToAccountID == id)
}
