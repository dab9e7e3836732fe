// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	var invalid []string
	if c.Fraud.Workers < 1 {
		invalid = append(invalid, "FRAUD_WORKERS")
	}
	if c.Fraud.QueueSize < 1 {
		invalid = append(invalid, "FRAUD_QUEUE_SIZE")
	}
	if c.Escrow.DefaultExpiryDays < 1 || c.Escrow.DefaultExpiryDays > c.Escrow.MaxExpiryDays {
		invalid = append(invalid, "ESCROW_DEFAULT_EXPIRY_DAYS")
	}
	if c.Ledger.MaxTransactionAmount.IsNegative() {
		invalid = append(invalid, "LEDGER_MAX_TRANSACTION_AMOUNT")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}

	return nil
}
