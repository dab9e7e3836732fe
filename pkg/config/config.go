// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Escrow   EscrowConfig
	Fraud    FraudConfig
	Risk     RiskConfig
	LogLevel string
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	IdempotencyTTL  time.Duration
	RateLimit       int
	RateLimitWindow time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// StatementTimeout bounds every store transaction.
	StatementTimeout time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Enabled  bool
}

type JWTConfig struct {
	Secret string
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	AlertsTopic string
	ClientID    string
}

type LedgerConfig struct {
	// MaxTransactionAmount is the per-movement ceiling; zero disables it.
	MaxTransactionAmount decimal.Decimal
	DefaultCurrency      string
}

type EscrowConfig struct {
	DefaultExpiryDays int
	MaxExpiryDays     int
	SweepInterval     time.Duration
	SweepBatchSize    int
}

type FraudConfig struct {
	Workers        int
	QueueSize      int
	EvalTimeout    time.Duration
	RuleCacheTTL   time.Duration
	HistoryMaxDays int
}

// RiskConfig carries the additive weights of the risk score.
type RiskConfig struct {
	AgeUnder7Days         int
	AgeUnder30Days        int
	AgeUnder90Days        int
	KYCNone               int
	KYCPending            int
	KYCRejected           int
	PerFailedMovement     int
	PerFlaggedMovement    int
	PerOpenDispute        int
	FlaggedAccount        int
	VelocityHighCount     int
	VelocityHighPoints    int
	VelocityExtremeCount  int
	VelocityExtremePoints int
	LookbackDays          int
}

// Load reads configuration from the environment, after merging any .env file present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),

			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			IdempotencyTTL:  getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
			RateLimit:       getIntEnv("RATE_LIMIT_REQUESTS", 120),
			RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			URL:              getEnv("DATABASE_URL", ""),
			MaxOpenConns:     getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime:  getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			StatementTimeout: getDurationEnv("DB_STATEMENT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Enabled:  getBoolEnv("REDIS_ENABLED", true),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Kafka: KafkaConfig{
			Enabled:     getBoolEnv("KAFKA_ENABLED", false),
			Brokers:     getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			AlertsTopic: getEnv("KAFKA_ALERTS_TOPIC", "fraud.alerts"),
			ClientID:    getEnv("KAFKA_CLIENT_ID", "paycore"),
		},
		Ledger: LedgerConfig{
			MaxTransactionAmount: getDecimalEnv("LEDGER_MAX_TRANSACTION_AMOUNT", decimal.NewFromInt(1000000)),
			DefaultCurrency:      getEnv("LEDGER_DEFAULT_CURRENCY", "USD"),
		},
		Escrow: EscrowConfig{
			DefaultExpiryDays: getIntEnv("ESCROW_DEFAULT_EXPIRY_DAYS", 7),
			MaxExpiryDays:     getIntEnv("ESCROW_MAX_EXPIRY_DAYS", 90),
			SweepInterval:     getDurationEnv("ESCROW_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatchSize:    getIntEnv("ESCROW_SWEEP_BATCH_SIZE", 100),
		},
		Fraud: FraudConfig{
			Workers:        getIntEnv("FRAUD_WORKERS", 4),
			QueueSize:      getIntEnv("FRAUD_QUEUE_SIZE", 1024),
			EvalTimeout:    getDurationEnv("FRAUD_EVAL_TIMEOUT", 10*time.Second),
			RuleCacheTTL:   getDurationEnv("FRAUD_RULE_CACHE_TTL", time.Minute),
			HistoryMaxDays: getIntEnv("FRAUD_HISTORY_MAX_DAYS", 90),
		},
		Risk:     LoadRiskConfig(),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// LoadRiskConfig reads the risk weights, falling back to the documented defaults.
func LoadRiskConfig() RiskConfig {
	d := DefaultRiskConfig()
	return RiskConfig{
		AgeUnder7Days:         getIntEnv("RISK_AGE_UNDER_7_DAYS", d.AgeUnder7Days),
		AgeUnder30Days:        getIntEnv("RISK_AGE_UNDER_30_DAYS", d.AgeUnder30Days),
		AgeUnder90Days:        getIntEnv("RISK_AGE_UNDER_90_DAYS", d.AgeUnder90Days),
		KYCNone:               getIntEnv("RISK_KYC_NONE", d.KYCNone),
		KYCPending:            getIntEnv("RISK_KYC_PENDING", d.KYCPending),
		KYCRejected:           getIntEnv("RISK_KYC_REJECTED", d.KYCRejected),
		PerFailedMovement:     getIntEnv("RISK_PER_FAILED_MOVEMENT", d.PerFailedMovement),
		PerFlaggedMovement:    getIntEnv("RISK_PER_FLAGGED_MOVEMENT", d.PerFlaggedMovement),
		PerOpenDispute:        getIntEnv("RISK_PER_OPEN_DISPUTE", d.PerOpenDispute),
		FlaggedAccount:        getIntEnv("RISK_FLAGGED_ACCOUNT", d.FlaggedAccount),
		VelocityHighCount:     getIntEnv("RISK_VELOCITY_HIGH_COUNT", d.VelocityHighCount),
		VelocityHighPoints:    getIntEnv("RISK_VELOCITY_HIGH_POINTS", d.VelocityHighPoints),
		VelocityExtremeCount:  getIntEnv("RISK_VELOCITY_EXTREME_COUNT", d.VelocityExtremeCount),
		VelocityExtremePoints: getIntEnv("RISK_VELOCITY_EXTREME_POINTS", d.VelocityExtremePoints),
		LookbackDays:          getIntEnv("RISK_LOOKBACK_DAYS", d.LookbackDays),
	}
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		AgeUnder7Days:         20,
		AgeUnder30Days:        10,
		AgeUnder90Days:        5,
		KYCNone:               15,
		KYCPending:            10,
		KYCRejected:           25,
		PerFailedMovement:     5,
		PerFlaggedMovement:    10,
		PerOpenDispute:        15,
		FlaggedAccount:        20,
		VelocityHighCount:     50,
		VelocityHighPoints:    10,
		VelocityExtremeCount:  100,
		VelocityExtremePoints: 20,
		LookbackDays:          30,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
