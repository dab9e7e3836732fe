package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/pkg/errors"
)

const ruleColumns = `id, name, description, rule_type, conditions, severity, is_active, created_at, updated_at`

const alertColumns = `id, movement_id, account_id, rule_id, rule_type, severity, status, reason,
	reviewed_by, review_notes, reviewed_at, created_at`

// ruleRow is the stored shape of a rule; conditions is a JSONB document
// decoded according to rule_type.
type ruleRow struct {
	ID          uuid.UUID       `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	RuleType    domain.RuleType `db:"rule_type"`
	Conditions  []byte          `db:"conditions"`
	Severity    domain.Severity `db:"severity"`
	IsActive    bool            `db:"is_active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func newRuleRow(r *domain.FraudRule) (*ruleRow, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRule, err.Error())
	}
	return &ruleRow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		RuleType:    r.RuleType,
		Conditions:  conditions,
		Severity:    r.Severity,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (row *ruleRow) toRule() (*domain.FraudRule, error) {
	cond, err := domain.DecodeRuleCondition(row.RuleType, row.Conditions)
	if err != nil {
		return nil, errors.Infrastructure(err, "stored fraud rule is corrupt")
	}
	return &domain.FraudRule{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		RuleType:    row.RuleType,
		Conditions:  cond,
		Severity:    row.Severity,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *domain.FraudRule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	row, err := newRuleRow(rule)
	if err != nil {
		return err
	}
	query := `INSERT INTO fraud_rules (` + ruleColumns + `) VALUES (` + namedValues(ruleColumns) + `)`
	_, err = s.db.NamedExecContext(ctx, query, row)
	return mapWriteError(err, "failed to create fraud rule")
}

func (s *Store) UpdateRule(ctx context.Context, rule *domain.FraudRule) error {
	rule.UpdatedAt = time.Now().UTC()
	row, err := newRuleRow(rule)
	if err != nil {
		return err
	}
	query := `
		UPDATE fraud_rules SET
			name = :name,
			description = :description,
			rule_type = :rule_type,
			conditions = :conditions,
			severity = :severity,
			is_active = :is_active,
			updated_at = :updated_at
		WHERE id = :id
		RETURNING created_at
	`
	rows, err := s.db.NamedQueryContext(ctx, query, row)
	if err != nil {
		return errors.Infrastructure(err, "failed to update fraud rule")
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return errors.Infrastructure(err, "failed to update fraud rule")
		}
		return errors.ErrRuleNotFound
	}
	if err := rows.Scan(&rule.CreatedAt); err != nil {
		return errors.Infrastructure(err, "failed to update fraud rule")
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*domain.FraudRule, error) {
	row := &ruleRow{}
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE id = $1`
	if err := s.db.GetContext(ctx, row, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrRuleNotFound, "failed to find fraud rule")
	}
	return row.toRule()
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]*domain.FraudRule, error) {
	var rows []*ruleRow
	query := `
		SELECT ` + ruleColumns + `
		FROM fraud_rules
		WHERE ($1::boolean = FALSE OR is_active)
		ORDER BY created_at ASC, id ASC
	`
	if err := s.db.SelectContext(ctx, &rows, query, activeOnly); err != nil {
		return nil, errors.Infrastructure(err, "failed to list fraud rules")
	}
	rules := make([]*domain.FraudRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fraud_rules WHERE id = $1`, id)
	if err != nil {
		return errors.Infrastructure(err, "failed to delete fraud rule")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to delete fraud rule")
	}
	if n == 0 {
		return errors.ErrRuleNotFound
	}
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, alert *domain.FraudAlert) (bool, error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO fraud_alerts (` + alertColumns + `) VALUES (` + namedValues(alertColumns) + `)
		ON CONFLICT (movement_id, rule_id) DO NOTHING`
	result, err := s.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return false, errors.Infrastructure(err, "failed to insert fraud alert")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Infrastructure(err, "failed to insert fraud alert")
	}
	if n == 1 {
		return true, nil
	}

	existing := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE movement_id = $1 AND rule_id = $2`
	if err := s.db.GetContext(ctx, alert, existing, alert.MovementID, alert.RuleID); err != nil {
		return false, errors.Infrastructure(err, "failed to load existing fraud alert")
	}
	return false, nil
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*domain.FraudAlert, error) {
	alert := &domain.FraudAlert{}
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`
	if err := s.db.GetContext(ctx, alert, query, id); err != nil {
		return nil, mapReadError(err, errors.ErrAlertNotFound, "failed to find fraud alert")
	}
	return alert, nil
}

func (s *Store) UpdateAlert(ctx context.Context, alert *domain.FraudAlert) error {
	query := `
		UPDATE fraud_alerts SET
			status = :status,
			reviewed_by = :reviewed_by,
			review_notes = :review_notes,
			reviewed_at = :reviewed_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return errors.Infrastructure(err, "failed to update fraud alert")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Infrastructure(err, "failed to update fraud alert")
	}
	if n == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}

func (s *Store) ListAlertsByMovement(ctx context.Context, movementID uuid.UUID) ([]*domain.FraudAlert, error) {
	var alerts []*domain.FraudAlert
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE movement_id = $1 ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &alerts, query, movementID); err != nil {
		return nil, errors.Infrastructure(err, "failed to list movement alerts")
	}
	return alerts, nil
}

func (s *Store) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.FraudAlert, error) {
	var alerts []*domain.FraudAlert
	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	if err := s.db.SelectContext(ctx, &alerts, query, string(status), limitArg(limit)); err != nil {
		return nil, errors.Infrastructure(err, "failed to list fraud alerts")
	}
	return alerts, nil
}
