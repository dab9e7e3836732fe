package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/pkg/errors"
)

type RuleType string

const (
	RuleTypeVelocity          RuleType = "velocity"
	RuleTypeAmountThreshold   RuleType = "amount_threshold"
	RuleTypeGeographicAnomaly RuleType = "geographic_anomaly"
	RuleTypeNewUserHighAmount RuleType = "new_user_high_amount"
	RuleTypeRiskScore         RuleType = "risk_score"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// RuleCondition is the typed parameter set of one fraud rule kind.
// The set of implementations is closed; evaluators switch over it exhaustively.
type RuleCondition interface {
	RuleType() RuleType
	Validate() error
}

// VelocityCondition triggers when the sender already has MaxTransactions completed
// movements inside the trailing window.
type VelocityCondition struct {
	WindowMinutes   int `json:"window_minutes"`
	MaxTransactions int `json:"max_transactions"`
}

func (VelocityCondition) RuleType() RuleType { return RuleTypeVelocity }

func (c VelocityCondition) Validate() error {
	if c.WindowMinutes <= 0 || c.MaxTransactions <= 0 {
		return errors.Wrap(errors.ErrInvalidRule, "velocity needs positive window_minutes and max_transactions")
	}
	return nil
}

type AmountThresholdCondition struct {
	Threshold decimal.Decimal `json:"threshold"`
}

func (AmountThresholdCondition) RuleType() RuleType { return RuleTypeAmountThreshold }

func (c AmountThresholdCondition) Validate() error {
	if !c.Threshold.IsPositive() {
		return errors.Wrap(errors.ErrInvalidRule, "amount_threshold needs a positive threshold")
	}
	return nil
}

// GeographicAnomalyCondition triggers when a movement originates from a location not seen
// in the sender's recent history, once at least MinHistory located movements exist.
type GeographicAnomalyCondition struct {
	LookbackDays int `json:"lookback_days"`
	MinHistory   int `json:"min_history"`
}

func (GeographicAnomalyCondition) RuleType() RuleType { return RuleTypeGeographicAnomaly }

func (c GeographicAnomalyCondition) Validate() error {
	if c.LookbackDays <= 0 || c.MinHistory < 1 {
		return errors.Wrap(errors.ErrInvalidRule, "geographic_anomaly needs positive lookback_days and min_history")
	}
	return nil
}

type NewUserHighAmountCondition struct {
	MaxAccountAgeDays int             `json:"max_account_age_days"`
	MinAmount         decimal.Decimal `json:"min_amount"`
}

func (NewUserHighAmountCondition) RuleType() RuleType { return RuleTypeNewUserHighAmount }

func (c NewUserHighAmountCondition) Validate() error {
	if c.MaxAccountAgeDays <= 0 || !c.MinAmount.IsPositive() {
		return errors.Wrap(errors.ErrInvalidRule, "new_user_high_amount needs positive max_account_age_days and min_amount")
	}
	return nil
}

type RiskScoreCondition struct {
	MinScore int `json:"min_score"`
}

func (RiskScoreCondition) RuleType() RuleType { return RuleTypeRiskScore }

func (c RiskScoreCondition) Validate() error {
	if c.MinScore < 1 || c.MinScore > 100 {
		return errors.Wrap(errors.ErrInvalidRule, "risk_score needs min_score between 1 and 100")
	}
	return nil
}

// DecodeRuleCondition parses the stored conditions document of a rule of the given type.
func DecodeRuleCondition(ruleType RuleType, raw []byte) (RuleCondition, error) {
	var cond RuleCondition
	switch ruleType {
	case RuleTypeVelocity:
		c := VelocityCondition{}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
		}
		cond = c
	case RuleTypeAmountThreshold:
		c := AmountThresholdCondition{}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
		}
		cond = c
	case RuleTypeGeographicAnomaly:
		c := GeographicAnomalyCondition{}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
		}
		cond = c
	case RuleTypeNewUserHighAmount:
		c := NewUserHighAmountCondition{}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
		}
		cond = c
	case RuleTypeRiskScore:
		c := RiskScoreCondition{}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
		}
		cond = c
	default:
		return nil, errors.Wrap(errors.ErrInvalidRule, fmt.Sprintf("unknown rule type %q", ruleType))
	}
	return cond, nil
}

// FraudRule is an administrator-defined detector evaluated against every movement.
type FraudRule struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	RuleType    RuleType      `json:"rule_type" db:"rule_type"`
	Conditions  RuleCondition `json:"conditions" db:"-"`
	Severity    Severity      `json:"severity" db:"severity"`
	IsActive    bool          `json:"is_active" db:"is_active"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Validate checks the rule header and that its conditions match its type.
func (r *FraudRule) Validate() error {
	if r.Name == "" {
		return errors.Wrap(errors.ErrInvalidRule, "name is required")
	}
	if !r.Severity.Valid() {
		return errors.Wrap(errors.ErrInvalidRule, fmt.Sprintf("unknown severity %q", r.Severity))
	}
	if r.Conditions == nil {
		return errors.Wrap(errors.ErrInvalidRule, "conditions are required")
	}
	if r.Conditions.RuleType() != r.RuleType {
		return errors.Wrap(errors.ErrInvalidRule, fmt.Sprintf("conditions of type %s do not match rule type %s", r.Conditions.RuleType(), r.RuleType))
	}
	return r.Conditions.Validate()
}

func (r *FraudRule) UnmarshalJSON(data []byte) error {
	type alias FraudRule
	aux := struct {
		*alias
		Conditions json.RawMessage `json:"conditions"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Conditions) == 0 || string(aux.Conditions) == "null" {
		r.Conditions = nil
		return nil
	}
	cond, err := DecodeRuleCondition(r.RuleType, aux.Conditions)
	if err != nil {
		return err
	}
	r.Conditions = cond
	return nil
}

// FraudAlert records that one rule triggered for one movement.
type FraudAlert struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	MovementID  uuid.UUID   `json:"movement_id" db:"movement_id"`
	AccountID   uuid.UUID   `json:"account_id" db:"account_id"`
	RuleID      uuid.UUID   `json:"rule_id" db:"rule_id"`
	RuleType    RuleType    `json:"rule_type" db:"rule_type"`
	Severity    Severity    `json:"severity" db:"severity"`
	Status      AlertStatus `json:"status" db:"status"`
	Reason      string      `json:"reason" db:"reason"`
	ReviewedBy  *uuid.UUID  `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNotes string      `json:"review_notes,omitempty" db:"review_notes"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
