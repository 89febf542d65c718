package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/repository"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// RuleService manages assignment rules for rule management UIs.
type RuleService struct {
	rules  repository.RuleRepository
	logger *zap.Logger
}

// RuleInput describes a rule to create or the new state of an existing one.
type RuleInput struct {
	Name       string
	Type       domain.RuleType
	Strategy   domain.Strategy
	IsActive   *bool
	Conditions domain.Conditions
	Escalation domain.EscalationRules
}

// NewRuleService constructs the service.
func NewRuleService(rules repository.RuleRepository, logger *zap.Logger) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{rules: rules, logger: logger.Named("rules")}
}

// GetEligibleRules returns the active rules of a request type in the order
// the matcher evaluates them.
func (s *RuleService) GetEligibleRules(ctx context.Context, viewer Viewer, requestTypeID string) ([]domain.AssignmentRule, error) {
	return s.rules.GetActiveRules(ctx, viewer.OrganizationID, requestTypeID)
}

// ListRules returns every rule of a request type, inactive ones included.
func (s *RuleService) ListRules(ctx context.Context, viewer Viewer, requestTypeID string) ([]domain.AssignmentRule, error) {
	if err := requireRuleManager(viewer); err != nil {
		return nil, err
	}
	return s.rules.ListByRequestType(ctx, viewer.OrganizationID, requestTypeID)
}

// Create validates input and appends the rule after the existing ones.
func (s *RuleService) Create(ctx context.Context, viewer Viewer, requestTypeID string, input RuleInput) (*domain.AssignmentRule, error) {
	if err := requireRuleManager(viewer); err != nil {
		return nil, err
	}
	rule := &domain.AssignmentRule{
		ID:             uuid.NewString(),
		OrganizationID: viewer.OrganizationID,
		RequestTypeID:  requestTypeID,
		IsActive:       true,
	}
	applyRuleInput(rule, input)
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.logger.Info("rule created",
		zap.String("rule_id", rule.ID),
		zap.String("request_type_id", requestTypeID),
		zap.Int("priority_order", rule.PriorityOrder))
	return rule, nil
}

// Update replaces the editable fields of a rule. Its position is unchanged.
func (s *RuleService) Update(ctx context.Context, viewer Viewer, ruleID string, input RuleInput) (*domain.AssignmentRule, error) {
	rule, err := s.owned(ctx, viewer, ruleID)
	if err != nil {
		return nil, err
	}
	applyRuleInput(rule, input)
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

// Delete removes a rule and closes the gap in priority order.
func (s *RuleService) Delete(ctx context.Context, viewer Viewer, ruleID string) error {
	if _, err := s.owned(ctx, viewer, ruleID); err != nil {
		return err
	}
	return s.rules.Delete(ctx, ruleID)
}

// Reorder assigns priorities 1..n following ids, which must list every rule
// of the request type exactly once.
func (s *RuleService) Reorder(ctx context.Context, viewer Viewer, requestTypeID string, ids []string) ([]domain.AssignmentRule, error) {
	if err := requireRuleManager(viewer); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: rule %s listed twice", domain.ErrInvalidRule, id)
		}
		seen[id] = true
	}
	if err := s.rules.Reorder(ctx, viewer.OrganizationID, requestTypeID, ids); err != nil {
		return nil, err
	}
	return s.rules.ListByRequestType(ctx, viewer.OrganizationID, requestTypeID)
}

func (s *RuleService) owned(ctx context.Context, viewer Viewer, ruleID string) (*domain.AssignmentRule, error) {
	if err := requireRuleManager(viewer); err != nil {
		return nil, err
	}
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.OrganizationID != viewer.OrganizationID {
		return nil, domain.ErrNotFound
	}
	return rule, nil
}

func applyRuleInput(rule *domain.AssignmentRule, input RuleInput) {
	rule.Name = strings.TrimSpace(input.Name)
	rule.Type = input.Type
	rule.Strategy = input.Strategy
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	rule.Conditions = input.Conditions
	rule.Escalation = input.Escalation
	rule.ApplyDefaults()
}

// validateRule checks structure and that a custom predicate compiles.
func validateRule(rule *domain.AssignmentRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Type == domain.RuleTypeCustom {
		if _, err := expr.Compile(rule.Conditions.CustomLogic); err != nil {
			return fmt.Errorf("%w: custom_logic: %v", domain.ErrInvalidRule, err)
		}
	}
	return nil
}

func requireRuleManager(viewer Viewer) error {
	if !viewer.Role.CanManageRules() {
		return apperrors.NewForbidden("rule management requires admin or superadmin")
	}
	return nil
}
