// ==============================================================================
// LEDGER SERVICE MAIN - cmd/server/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"paycore/internal/dispute"
	"paycore/internal/escrow"
	"paycore/internal/events"
	"paycore/internal/fraud"
	"paycore/internal/handler"
	"paycore/internal/ledger"
	"paycore/internal/metrics"
	"paycore/internal/middleware"
	"paycore/internal/repository/postgres"
	"paycore/internal/risk"
	"paycore/internal/scheduler"
	"paycore/pkg/cache"
	"paycore/pkg/config"
	"paycore/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("paycore")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting ledger service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	// Database connection
	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()
	store := postgres.NewStore(db, cfg.Database.StatementTimeout)
	log.Info("Database connected", nil)

	// Cache: Redis when enabled, in-process otherwise
	var (
		ruleCache   cache.Cache
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		ruleCache = rc
		redisClient = rc.Client()
		log.Info("Redis connected", nil)
	} else {
		ruleCache = cache.NewMemoryCache()
		log.Warn("Redis disabled; using in-process cache without rate limiting", nil)
	}
	defer ruleCache.Close()

	// Alert publisher
	var publisher events.AlertPublisher = events.NewNoOpPublisher(log)
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to create Kafka publisher", map[string]interface{}{"error": err.Error()})
		}
		defer kp.Close()
		publisher = kp
	}

	collector := metrics.NewCollector()

	// Fraud pipeline
	rules := fraud.NewRuleService(store, ruleCache, cfg.Fraud.RuleCacheTTL, log)
	engine := fraud.NewEngine(store, rules, publisher, cfg.Fraud, cfg.Risk, log).WithMetrics(collector)
	dispatcher := fraud.NewDispatcher(engine, cfg.Fraud, log).WithMetrics(collector)
	dispatcher.Start()

	// Services
	ledgerService := ledger.NewService(store, dispatcher, cfg.Ledger, cfg.Database.StatementTimeout, log).WithMetrics(collector)
	escrowService := escrow.NewService(ledgerService, store, cfg.Escrow, log).WithMetrics(collector)
	disputeService := dispute.NewService(ledgerService, store, log)
	riskService := risk.NewService(store, cfg.Risk, log).WithMetrics(collector)

	sched := scheduler.NewScheduler(time.Second, log)
	sched.Schedule(scheduler.EscrowSweep(escrowService, cfg.Escrow.SweepInterval, cfg.Escrow.SweepInterval))
	sched.Start()

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateLimitWindow, log)
	}

	router := handler.Router{
		Ledger:      handler.NewLedgerHandler(ledgerService, log),
		Escrow:      handler.NewEscrowHandler(escrowService, log),
		Disputes:    handler.NewDisputeHandler(disputeService, log),
		Fraud:       handler.NewFraudHandler(rules, log),
		Risk:        handler.NewRiskHandler(riskService, log),
		System:      handler.NewSystemHandler(store, redisClient, log),
		Auth:        middleware.NewAuthMiddleware(cfg.JWT.Secret),
		Idempotency: middleware.NewIdempotencyMiddleware(ruleCache, cfg.Server.IdempotencyTTL, log),
		RateLimiter: limiter,
		Metrics:     collector,
		Logger:      log,
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Ledger service started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down ledger service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	sched.Stop()
	// Pending evaluations drain after the last request has posted.
	if err := dispatcher.Stop(ctx); err != nil {
		log.Error("Fraud dispatcher did not drain", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Ledger service stopped gracefully", nil)
}
