package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"paycore/internal/domain"
	"paycore/internal/middleware"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// responder carries the JSON helpers every handler embeds.
type responder struct {
	logger logger.Logger
}

func (h responder) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// respondError maps the error class to a status code and writes only the
// public code and message. Infrastructure causes are logged, never returned.
func (h responder) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(errors.ClassOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", map[string]interface{}{
			"error":      err.Error(),
			"path":       r.URL.Path,
			"request_id": middleware.RequestIDFromContext(r.Context()),
		})
	}
	code, message := errors.Public(err)
	h.respondJSON(w, status, errorBody{Code: code, Message: message})
}

func (h responder) respondValidationErrors(w http.ResponseWriter, fields map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, errorBody{
		Code:    errors.ErrInvalidRequest.Code,
		Message: errors.ErrInvalidRequest.Message,
		Fields:  fields,
	})
}

func statusFor(class errors.Class) int {
	switch class {
	case errors.ClassValidation:
		return http.StatusBadRequest
	case errors.ClassConflict:
		return http.StatusConflict
	case errors.ClassNotFound:
		return http.StatusNotFound
	case errors.ClassForbidden:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// decode reads a bounded JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, errors.Wrap(errors.ErrInvalidRequest, "invalid "+name)
	}
	return id, nil
}

func caller(r *http.Request) (middleware.Caller, error) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return middleware.Caller{}, errors.ErrForbidden
	}
	return c, nil
}

// idempotencyKey prefers the caller-scoped header key set by the replay
// middleware over a key supplied in the body. Body keys get the same scope.
func idempotencyKey(r *http.Request, body string) string {
	if key := middleware.IdempotencyKeyFromContext(r.Context()); key != "" {
		return key
	}
	if body == "" {
		return ""
	}
	if c, ok := middleware.CallerFromContext(r.Context()); ok {
		return c.AccountID.String() + ":" + body
	}
	return body
}

// originOf captures where a request came from for fraud evaluation.
func originOf(r *http.Request) domain.Origin {
	country := r.Header.Get("CF-IPCountry")
	if country == "" {
		country = r.Header.Get("X-Country-Code")
	}
	return domain.Origin{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Country:   strings.ToUpper(strings.TrimSpace(country)),
	}
}
