package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/dispute"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

type DisputeHandler struct {
	responder
	service   *dispute.Service
	validator *validator.Validator
}

func NewDisputeHandler(service *dispute.Service, log logger.Logger) *DisputeHandler {
	return &DisputeHandler{
		responder: responder{logger: log},
		service:   service,
		validator: validator.New(),
	}
}

type FileDisputeBody struct {
	MovementID  uuid.UUID      `json:"movement_id" validate:"required"`
	Reason      dispute.Reason `json:"reason" validate:"required,oneof=fraud duplicate incorrect_amount goods_not_received unauthorized other"`
	Description string         `json:"description,omitempty" validate:"max=1000"`
}

func (h *DisputeHandler) File(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body FileDisputeBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	d, err := h.service.File(r.Context(), dispute.FileRequest{
		AccountID:   c.AccountID,
		MovementID:  body.MovementID,
		Reason:      body.Reason,
		Description: body.Description,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, d)
}

func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !c.IsAdmin() && d.FilingAccountID != c.AccountID {
		h.respondError(w, r, errors.ErrDisputeNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}

func (h *DisputeHandler) StartReview(w http.ResponseWriter, r *http.Request) {
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
	d, err := h.service.StartReview(r.Context(), id, c.AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}

type ResolveDisputeBody struct {
	Resolution   string          `json:"resolution" validate:"required,max=1000"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// Resolve settles the dispute, reversing RefundAmount back to the payer when positive.
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
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
	var body ResolveDisputeBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}

	d, err := h.service.Resolve(r.Context(), dispute.ResolveRequest{
		DisputeID:    id,
		ResolvedBy:   c.AccountID,
		Resolution:   body.Resolution,
		RefundAmount: body.RefundAmount,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}

type CloseDisputeBody struct {
	Resolution string `json:"resolution" validate:"required,max=1000"`
}

func (h *DisputeHandler) Close(w http.ResponseWriter, r *http.Request) {
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
	var body CloseDisputeBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	d, err := h.service.Close(r.Context(), id, c.AccountID, body.Resolution)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}
