// Seeding tool for local development: two funded accounts, the default fraud
// rule set, and a bearer token for each seeded account plus an operator.
// Accounts open empty and are funded by a deposit posted through the ledger.
//
//	SEED_ALICE_EMAIL=alice@example.com SEED_BOB_EMAIL=bob@example.com
//
// Reads DATABASE_URL and other core config via paycore/pkg/config
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain"
	"paycore/internal/fraud"
	"paycore/internal/ledger"
	"paycore/internal/middleware"
	"paycore/internal/repository/postgres"
	"paycore/pkg/cache"
	"paycore/pkg/config"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

func main() {
	log := logger.New("paycore-seed")

	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	store := postgres.NewStore(db, cfg.Database.StatementTimeout)
	ledgerService := ledger.NewService(store, nil, cfg.Ledger, cfg.Database.StatementTimeout, log)
	ctx := context.Background()

	alice := ensureAccount(ctx, ledgerService, log, getenv("SEED_ALICE_EMAIL", "alice@example.com"), decimal.NewFromInt(10_000), domain.KYCStateVerified)
	bob := ensureAccount(ctx, ledgerService, log, getenv("SEED_BOB_EMAIL", "bob@example.com"), decimal.NewFromInt(500), domain.KYCStatePending)

	rules := fraud.NewRuleService(store, cache.NewMemoryCache(), time.Minute, log)
	ensureRules(ctx, rules, log)

	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	operator := middleware.Caller{AccountID: uuid.New(), Email: "ops@example.com", Role: middleware.RoleAdmin}
	for _, c := range []middleware.Caller{
		{AccountID: alice.ID, Email: alice.Email, Role: middleware.RoleUser},
		{AccountID: bob.ID, Email: bob.Email, Role: middleware.RoleUser},
		operator,
	} {
		token, err := auth.Sign(c, 24*time.Hour)
		if err != nil {
			log.Fatal("Failed to sign token", map[string]interface{}{"error": err.Error()})
		}
		fmt.Printf("%s (%s): %s\n", c.Email, c.Role, token)
	}
	fmt.Println("OK: accounts and fraud rules seeded")
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// ensureAccount opens the account when missing and posts its seed deposit.
// The deposit's idempotency key makes a rerun a replay.
func ensureAccount(ctx context.Context, ledgerService *ledger.Service, log logger.Logger, email string, balance decimal.Decimal, kyc domain.KYCState) *domain.Account {
	account, err := ledgerService.OpenAccount(ctx, ledger.OpenAccountRequest{
		Email:    email,
		Currency: domain.USD,
		KYCState: kyc,
	})
	switch {
	case err == nil:
		log.Info("Account created", map[string]interface{}{"email": email, "account_id": account.ID})
	case errors.Is(err, errors.ErrAccountAlreadyExists):
		account, err = ledgerService.AccountByEmail(ctx, email)
		if err != nil {
			log.Fatal("AccountByEmail failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Account exists", map[string]interface{}{"email": email, "account_id": account.ID})
	default:
		log.Fatal("OpenAccount failed", map[string]interface{}{"error": err.Error()})
	}

	m, err := ledgerService.Adjust(ctx, ledger.AdjustRequest{
		AccountID:      account.ID,
		Direction:      ledger.Credit,
		Amount:         balance,
		Currency:       domain.USD,
		Kind:           domain.MovementKindDeposit,
		IdempotencyKey: "seed-deposit:" + account.ID.String(),
		Description:    "seed deposit",
	})
	if err != nil {
		log.Fatal("Seed deposit failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Account funded", map[string]interface{}{"account_id": account.ID, "movement_id": m.ID, "amount": balance.String()})
	return account
}

func defaultRules() []*domain.FraudRule {
	return []*domain.FraudRule{
		{
			Name:       "Burst of transfers",
			RuleType:   domain.RuleTypeVelocity,
			Conditions: domain.VelocityCondition{WindowMinutes: 10, MaxTransactions: 5},
			Severity:   domain.SeverityMedium,
			IsActive:   true,
		},
		{
			Name:       "Large single movement",
			RuleType:   domain.RuleTypeAmountThreshold,
			Conditions: domain.AmountThresholdCondition{Threshold: decimal.NewFromInt(5_000)},
			Severity:   domain.SeverityHigh,
			IsActive:   true,
		},
		{
			Name:       "New origin country",
			RuleType:   domain.RuleTypeGeographicAnomaly,
			Conditions: domain.GeographicAnomalyCondition{LookbackDays: 30, MinHistory: 3},
			Severity:   domain.SeverityMedium,
			IsActive:   true,
		},
		{
			Name:       "New account moving large amounts",
			RuleType:   domain.RuleTypeNewUserHighAmount,
			Conditions: domain.NewUserHighAmountCondition{MaxAccountAgeDays: 7, MinAmount: decimal.NewFromInt(1_000)},
			Severity:   domain.SeverityHigh,
			IsActive:   true,
		},
		{
			Name:       "High risk sender",
			RuleType:   domain.RuleTypeRiskScore,
			Conditions: domain.RiskScoreCondition{MinScore: 70},
			Severity:   domain.SeverityCritical,
			IsActive:   true,
		},
	}
}

// ensureRules creates each default rule whose name is not already configured.
func ensureRules(ctx context.Context, rules *fraud.RuleService, log logger.Logger) {
	existing, err := rules.ListRules(ctx, false)
	if err != nil {
		log.Fatal("ListRules failed", map[string]interface{}{"error": err.Error()})
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}
	for _, r := range defaultRules() {
		if names[r.Name] {
			continue
		}
		if _, err := rules.CreateRule(ctx, r); err != nil {
			log.Fatal("CreateRule failed", map[string]interface{}{"rule": r.Name, "error": err.Error()})
		}
	}
}
