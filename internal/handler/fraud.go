package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/internal/fraud"
	"paycore/pkg/logger"
	"paycore/pkg/validator"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// FraudHandler exposes rule administration and alert review to operators.
type FraudHandler struct {
	responder
	rules     *fraud.RuleService
	validator *validator.Validator
}

func NewFraudHandler(rules *fraud.RuleService, log logger.Logger) *FraudHandler {
	return &FraudHandler{
		responder: responder{logger: log},
		rules:     rules,
		validator: validator.New(),
	}
}

func (h *FraudHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.FraudRule
	if err := decode(w, r, &rule); err != nil {
		h.respondError(w, r, err)
		return
	}
	rule.ID = uuid.Nil
	created, err := h.rules.CreateRule(r.Context(), &rule)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

func (h *FraudHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	rules, err := h.rules.ListRules(r.Context(), activeOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *FraudHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

func (h *FraudHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var rule domain.FraudRule
	if err := decode(w, r, &rule); err != nil {
		h.respondError(w, r, err)
		return
	}
	updated, err := h.rules.UpdateRule(r.Context(), id, &rule)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

type RuleActiveBody struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (h *FraudHandler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var body RuleActiveBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	rule, err := h.rules.SetRuleActive(r.Context(), id, *body.IsActive)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

func (h *FraudHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.rules.DeleteRule(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts filters by ?status= and caps the page with ?limit=.
func (h *FraudHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondValidationErrors(w, map[string]string{"limit": "Must be a positive integer"})
			return
		}
		if n > maxAlertLimit {
			n = maxAlertLimit
		}
		limit = n
	}
	status := domain.AlertStatus(r.URL.Query().Get("status"))
	alerts, err := h.rules.ListAlerts(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *FraudHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	alert, err := h.rules.GetAlert(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, alert)
}

func (h *FraudHandler) ListMovementAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	alerts, err := h.rules.ListMovementAlerts(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

type ReviewAlertBody struct {
	Status domain.AlertStatus `json:"status" validate:"required,oneof=resolved false_positive"`
	Notes  string             `json:"notes,omitempty" validate:"max=1000"`
}

func (h *FraudHandler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
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
	var body ReviewAlertBody
	if err := decode(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if fields := h.validator.ValidateStructured(body); fields != nil {
		h.respondValidationErrors(w, fields)
		return
	}
	alert, err := h.rules.ReviewAlert(r.Context(), fraud.ReviewRequest{
		AlertID:    id,
		ReviewerID: c.AccountID,
		Status:     body.Status,
		Notes:      body.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, alert)
}
