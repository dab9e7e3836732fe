// Package domain re-exports fraud domain types from pkg/domain.
// internal/domain/fraud.go
package domain

import pkg "paycore/pkg/domain"

type RuleType = pkg.RuleType

const (
	RuleTypeVelocity          = pkg.RuleTypeVelocity
	RuleTypeAmountThreshold   = pkg.RuleTypeAmountThreshold
	RuleTypeGeographicAnomaly = pkg.RuleTypeGeographicAnomaly
	RuleTypeNewUserHighAmount = pkg.RuleTypeNewUserHighAmount
	RuleTypeRiskScore         = pkg.RuleTypeRiskScore
)

type Severity = pkg.Severity

const (
	SeverityLow      = pkg.SeverityLow
	SeverityMedium   = pkg.SeverityMedium
	SeverityHigh     = pkg.SeverityHigh
	SeverityCritical = pkg.SeverityCritical
)

type AlertStatus = pkg.AlertStatus

const (
	AlertStatusOpen          = pkg.AlertStatusOpen
	AlertStatusResolved      = pkg.AlertStatusResolved
	AlertStatusFalsePositive = pkg.AlertStatusFalsePositive
)

// RuleCondition is the typed condition set of a fraud rule.
type RuleCondition = pkg.RuleCondition

type (
	VelocityCondition          = pkg.VelocityCondition
	AmountThresholdCondition   = pkg.AmountThresholdCondition
	GeographicAnomalyCondition = pkg.GeographicAnomalyCondition
	NewUserHighAmountCondition = pkg.NewUserHighAmountCondition
	RiskScoreCondition         = pkg.RiskScoreCondition
)

// FraudRule represents a configured detector.
type FraudRule = pkg.FraudRule

// FraudAlert represents a triggered rule on a movement.
type FraudAlert = pkg.FraudAlert

// DecodeRuleCondition parses a stored conditions document for the given rule type.
func DecodeRuleCondition(ruleType RuleType, raw []byte) (RuleCondition, error) {
	return pkg.DecodeRuleCondition(ruleType, raw)
}
