package handler

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/escrow"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

type EscrowHandler struct {
	responder
	service   *escrow.Service
	validator *validator.Validator
}

func NewEscrowHandler(service *escrow.Service, log logger.Logger) *EscrowHandler {
	return &EscrowHandler{
		responder: responder{logger: log},
		service:   service,
		validator: validator.New(),
	}
}

type CreateHoldBody struct {
	RecipientEmail string          `json:"recipient_email" validate:"required,email"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       domain.Currency `json:"currency" validate:"required,currency"`
	ExpiryDays     int             `json:"expiry_days,omitempty" validate:"gte=0"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"max=64"`
}

// Create funds a hold from the caller's account. The response carries the
// claim code exactly once.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body CreateHoldBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	hold, err := h.service.Create(r.Context(), escrow.CreateRequest{
		SenderAccountID: c.AccountID,
		RecipientEmail:  body.RecipientEmail,
		Amount:          body.Amount,
		Currency:        body.Currency,
		ExpiryDays:      body.ExpiryDays,
		IdempotencyKey:  idempotencyKey(r, body.IdempotencyKey),
		Origin:          originOf(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, hold)
}

type ClaimBody struct {
	ClaimCode string `json:"claim_code" validate:"required,max=128"`
}

func (h *EscrowHandler) Claim(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body ClaimBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	m, err := h.service.Claim(r.Context(), escrow.ClaimRequest{
		ClaimCode:         body.ClaimCode,
		ClaimantAccountID: c.AccountID,
		Origin:            originOf(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m)
}

func (h *EscrowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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
	hold, err := h.service.Cancel(r.Context(), id, c.AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, hold)
}

// Get is visible to the sender, the addressed recipient and admins.
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	hold, err := h.service.GetHold(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	recipient := c.Email != "" && strings.EqualFold(strings.TrimSpace(c.Email), hold.RecipientEmail)
	if !c.IsAdmin() && hold.SenderAccountID != c.AccountID && !recipient {
		h.respondError(w, r, errors.ErrHoldNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, hold)
}
