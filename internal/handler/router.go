package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"paycore/internal/metrics"
	"paycore/internal/middleware"
	"paycore/pkg/logger"
)

// Router bundles everything NewRouter mounts. RateLimiter and Metrics may be nil.
type Router struct {
	Ledger      *LedgerHandler
	Escrow      *EscrowHandler
	Disputes    *DisputeHandler
	Fraud       *FraudHandler
	Risk        *RiskHandler
	System      *SystemHandler
	Auth        *middleware.AuthMiddleware
	Idempotency *middleware.IdempotencyMiddleware
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Collector
	Logger      logger.Logger
}

func (rt Router) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(rt.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS)
	r.Use(middleware.NewLoggingMiddleware(rt.Logger, rt.Metrics).Log)

	r.HandleFunc("/health", rt.System.Health).Methods("GET")
	r.HandleFunc("/ready", rt.System.Ready).Methods("GET")
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rt.Auth.Authenticate)
	if rt.RateLimiter != nil {
		api.Use(rt.RateLimiter.Limit)
	}
	api.Use(rt.Idempotency.Replay)

	// Accounts
	api.HandleFunc("/accounts", rt.Ledger.OpenAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", rt.Ledger.GetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/movements", rt.Ledger.ListMovements).Methods("GET")
	api.HandleFunc("/accounts/{id}/risk", rt.Risk.Score).Methods("GET")

	// Movements
	api.HandleFunc("/transfers", rt.Ledger.Transfer).Methods("POST")
	api.HandleFunc("/withdrawals", rt.Ledger.Withdraw).Methods("POST")
	api.HandleFunc("/movements/{id}", rt.Ledger.GetMovement).Methods("GET")

	// Escrow
	api.HandleFunc("/escrow", rt.Escrow.Create).Methods("POST")
	api.HandleFunc("/escrow/claim", rt.Escrow.Claim).Methods("POST")
	api.HandleFunc("/escrow/{id}", rt.Escrow.Get).Methods("GET")
	api.HandleFunc("/escrow/{id}/cancel", rt.Escrow.Cancel).Methods("POST")

	// Disputes
	api.HandleFunc("/disputes", rt.Disputes.File).Methods("POST")
	api.HandleFunc("/disputes/{id}", rt.Disputes.Get).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)

	admin.HandleFunc("/accounts/{id}/status", rt.Ledger.SetAccountStatus).Methods("PUT")
	admin.HandleFunc("/accounts/{id}/kyc", rt.Ledger.SetAccountKYC).Methods("PUT")
	admin.HandleFunc("/accounts/{id}/flagged", rt.Ledger.SetAccountFlagged).Methods("PUT")
	admin.HandleFunc("/accounts/{id}/adjustments", rt.Ledger.Adjust).Methods("POST")

	admin.HandleFunc("/disputes/{id}/review", rt.Disputes.StartReview).Methods("POST")
	admin.HandleFunc("/disputes/{id}/resolve", rt.Disputes.Resolve).Methods("POST")
	admin.HandleFunc("/disputes/{id}/close", rt.Disputes.Close).Methods("POST")

	admin.HandleFunc("/fraud/rules", rt.Fraud.CreateRule).Methods("POST")
	admin.HandleFunc("/fraud/rules", rt.Fraud.ListRules).Methods("GET")
	admin.HandleFunc("/fraud/rules/{id}", rt.Fraud.GetRule).Methods("GET")
	admin.HandleFunc("/fraud/rules/{id}", rt.Fraud.UpdateRule).Methods("PUT")
	admin.HandleFunc("/fraud/rules/{id}", rt.Fraud.DeleteRule).Methods("DELETE")
	admin.HandleFunc("/fraud/rules/{id}/active", rt.Fraud.SetRuleActive).Methods("PUT")
	admin.HandleFunc("/fraud/alerts", rt.Fraud.ListAlerts).Methods("GET")
	admin.HandleFunc("/fraud/alerts/{id}", rt.Fraud.GetAlert).Methods("GET")
	admin.HandleFunc("/fraud/alerts/{id}/review", rt.Fraud.ReviewAlert).Methods("POST")
	admin.HandleFunc("/movements/{id}/alerts", rt.Fraud.ListMovementAlerts).Methods("GET")

	return r
}
