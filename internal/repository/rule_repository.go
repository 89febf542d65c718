package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

// RuleRepository stores assignment rules per request type.
type RuleRepository interface {
	// GetActiveRules returns active rules ordered by priority_order, then id.
	GetActiveRules(ctx context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error)
	ListByRequestType(ctx context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error)
	GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error)
	// Create appends the rule after the last priority of its request type.
	Create(ctx context.Context, rule *domain.AssignmentRule) error
	Update(ctx context.Context, rule *domain.AssignmentRule) error
	// Delete removes the rule and closes the gap in priority_order.
	Delete(ctx context.Context, id string) error
	// Reorder assigns priority_order 1..n following ids.
	Reorder(ctx context.Context, orgID, requestTypeID string, ids []string) error
}

type ruleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository builds repository.
func NewRuleRepository(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepository{pool: pool}
}

const ruleColumns = `id, organization_id, request_type_id, rule_name, priority_order, rule_type,
        assignment_strategy, is_active, conditions, escalation_rules, created_at, updated_at`

func (r *ruleRepository) GetActiveRules(ctx context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error) {
	query := `SELECT ` + ruleColumns + `
        FROM assignment_rules
        WHERE organization_id=$1 AND request_type_id=$2 AND is_active
        ORDER BY priority_order ASC, id ASC`
	return r.list(ctx, query, orgID, requestTypeID)
}

func (r *ruleRepository) ListByRequestType(ctx context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error) {
	query := `SELECT ` + ruleColumns + `
        FROM assignment_rules
        WHERE organization_id=$1 AND request_type_id=$2
        ORDER BY priority_order ASC, id ASC`
	return r.list(ctx, query, orgID, requestTypeID)
}

func (r *ruleRepository) GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM assignment_rules WHERE id=$1`
	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return rule, nil
}

func (r *ruleRepository) Create(ctx context.Context, rule *domain.AssignmentRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	conditions, escalation, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		// serialize appends for the same request type
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rule.OrganizationID+"/"+rule.RequestTypeID); err != nil {
			return err
		}
		const query = `
            INSERT INTO assignment_rules (id, organization_id, request_type_id, rule_name, priority_order, rule_type,
                assignment_strategy, is_active, conditions, escalation_rules)
            SELECT $1,$2,$3,$4,COALESCE(MAX(priority_order), 0) + 1,$5,$6,$7,$8,$9
            FROM assignment_rules WHERE organization_id=$2 AND request_type_id=$3
            RETURNING priority_order, created_at, updated_at`
		return tx.QueryRow(ctx, query,
			rule.ID,
			rule.OrganizationID,
			rule.RequestTypeID,
			rule.Name,
			rule.Type,
			rule.Strategy,
			rule.IsActive,
			conditions,
			escalation,
		).Scan(&rule.PriorityOrder, &rule.CreatedAt, &rule.UpdatedAt)
	})
}

func (r *ruleRepository) Update(ctx context.Context, rule *domain.AssignmentRule) error {
	conditions, escalation, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}
	const query = `
        UPDATE assignment_rules
        SET rule_name=$1, rule_type=$2, assignment_strategy=$3, is_active=$4, conditions=$5, escalation_rules=$6, updated_at=NOW()
        WHERE id=$7
        RETURNING updated_at`
	err = r.pool.QueryRow(ctx, query,
		rule.Name,
		rule.Type,
		rule.Strategy,
		rule.IsActive,
		conditions,
		escalation,
		rule.ID,
	).Scan(&rule.UpdatedAt)
	return mapNoRows(err)
}

func (r *ruleRepository) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var orgID, typeID string
		var order int
		err := tx.QueryRow(ctx,
			`DELETE FROM assignment_rules WHERE id=$1 RETURNING organization_id, request_type_id, priority_order`, id,
		).Scan(&orgID, &typeID, &order)
		if err != nil {
			return mapNoRows(err)
		}
		_, err = tx.Exec(ctx, `
            UPDATE assignment_rules SET priority_order = priority_order - 1, updated_at=NOW()
            WHERE organization_id=$1 AND request_type_id=$2 AND priority_order > $3`,
			orgID, typeID, order)
		return err
	})
}

func (r *ruleRepository) Reorder(ctx context.Context, orgID, requestTypeID string, ids []string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM assignment_rules WHERE organization_id=$1 AND request_type_id=$2`,
			orgID, requestTypeID,
		).Scan(&count); err != nil {
			return err
		}
		if count != len(ids) {
			return fmt.Errorf("%w: reorder lists %d of %d rules", domain.ErrInvalidRule, len(ids), count)
		}
		for i, id := range ids {
			cmd, err := tx.Exec(ctx, `
                UPDATE assignment_rules SET priority_order=$1, updated_at=NOW()
                WHERE id=$2 AND organization_id=$3 AND request_type_id=$4`,
				i+1, id, orgID, requestTypeID)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 0 {
				return fmt.Errorf("%w: rule %s does not belong to request type %s", domain.ErrInvalidRule, id, requestTypeID)
			}
		}
		return nil
	})
}

func (r *ruleRepository) list(ctx context.Context, query string, args ...any) ([]domain.AssignmentRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func scanRule(row pgx.Row) (*domain.AssignmentRule, error) {
	var rule domain.AssignmentRule
	var conditions, escalation []byte
	if err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.RequestTypeID,
		&rule.Name,
		&rule.PriorityOrder,
		&rule.Type,
		&rule.Strategy,
		&rule.IsActive,
		&conditions,
		&escalation,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions of rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal(escalation, &rule.Escalation); err != nil {
		return nil, fmt.Errorf("decode escalation_rules of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

func marshalRuleJSON(rule *domain.AssignmentRule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode conditions: %w", err)
	}
	escalation, err := json.Marshal(rule.Escalation)
	if err != nil {
		return nil, nil, fmt.Errorf("encode escalation_rules: %w", err)
	}
	return conditions, escalation, nil
}
