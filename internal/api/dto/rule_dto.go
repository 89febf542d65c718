package dto

import (
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// RuleRequest payload for creating or updating an assignment rule.
type RuleRequest struct {
	RuleName           string                 `json:"rule_name"`
	RuleType           domain.RuleType        `json:"rule_type"`
	AssignmentStrategy domain.Strategy        `json:"assignment_strategy"`
	IsActive           *bool                  `json:"is_active"`
	Conditions         domain.Conditions      `json:"conditions"`
	EscalationRules    domain.EscalationRules `json:"escalation_rules"`
}

// ReorderRulesRequest payload for POST /request-types/:typeId/rules/reorder.
type ReorderRulesRequest struct {
	RuleIDs []string `json:"rule_ids"`
}

// RuleResponse is the API view of a rule.
type RuleResponse struct {
	ID                 string                 `json:"id"`
	OrganizationID     string                 `json:"organization_id"`
	RequestTypeID      string                 `json:"request_type_id"`
	RuleName           string                 `json:"rule_name"`
	PriorityOrder      int                    `json:"priority_order"`
	RuleType           domain.RuleType        `json:"rule_type"`
	AssignmentStrategy domain.Strategy        `json:"assignment_strategy"`
	IsActive           bool                   `json:"is_active"`
	Conditions         domain.Conditions      `json:"conditions"`
	EscalationRules    domain.EscalationRules `json:"escalation_rules"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// NewRuleResponse maps a domain rule.
func NewRuleResponse(rule *domain.AssignmentRule) RuleResponse {
	return RuleResponse{
		ID:                 rule.ID,
		OrganizationID:     rule.OrganizationID,
		RequestTypeID:      rule.RequestTypeID,
		RuleName:           rule.Name,
		PriorityOrder:      rule.PriorityOrder,
		RuleType:           rule.Type,
		AssignmentStrategy: rule.Strategy,
		IsActive:           rule.IsActive,
		Conditions:         rule.Conditions,
		EscalationRules:    rule.Escalation,
		CreatedAt:          rule.CreatedAt,
		UpdatedAt:          rule.UpdatedAt,
	}
}

// NewRuleResponses maps a slice of rules.
func NewRuleResponses(rules []domain.AssignmentRule) []RuleResponse {
	out := make([]RuleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, NewRuleResponse(&rules[i]))
	}
	return out
}
