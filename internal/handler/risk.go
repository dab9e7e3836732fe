package handler

import (
	"net/http"

	"paycore/internal/risk"
	"paycore/pkg/logger"
)

type RiskHandler struct {
	responder
	service *risk.Service
}

func NewRiskHandler(service *risk.Service, log logger.Logger) *RiskHandler {
	return &RiskHandler{responder: responder{logger: log}, service: service}
}

// Score returns the current risk assessment for the account.
func (h *RiskHandler) Score(w http.ResponseWriter, r *http.Request) {
	id, ok := authorizeAccount(h.responder, w, r)
	if !ok {
		return
	}
	assessment, err := h.service.ScoreAccount(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, assessment)
}
