package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Escrow.DefaultExpiryDays)
	assert.Equal(t, "fraud.alerts", cfg.Kafka.AlertsTopic)
	assert.Equal(t, 20, cfg.Risk.AgeUnder7Days)
	assert.True(t, cfg.Ledger.MaxTransactionAmount.Equal(decimal.NewFromInt(1000000)))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_MAX_TRANSACTION_AMOUNT", "250.50")
	t.Setenv("FRAUD_EVAL_TIMEOUT", "3s")
	t.Setenv("RISK_KYC_NONE", "40")
	t.Setenv("FRAUD_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "250.5", cfg.Ledger.MaxTransactionAmount.String())
	assert.Equal(t, 3*time.Second, cfg.Fraud.EvalTimeout)
	assert.Equal(t, 40, cfg.Risk.KYCNone)
	assert.Equal(t, 4, cfg.Fraud.Workers)
}

func TestValidateCore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	cfg := Load()
	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.URL = "postgres://localhost/paycore"
	cfg.JWT.Secret = "s3cret"
	require.NoError(t, cfg.ValidateCore())

	cfg.Fraud.Workers = 0
	err = cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FRAUD_WORKERS")
}
