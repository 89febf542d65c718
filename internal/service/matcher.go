package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

// MatchInput carries the request attributes rules are matched against.
type MatchInput struct {
	OrganizationID string
	RequestTypeID  string
	Priority       domain.Priority
	FormData       map[string]any
}

// RuleMatcher picks the first active rule, in priority order, that applies to a request.
type RuleMatcher struct {
	rules   repository.RuleRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	limits  expr.Limits

	mu    sync.Mutex
	cache map[string]compiledPredicate
}

type compiledPredicate struct {
	source  string
	program *expr.Program
	err     error
}

// NewRuleMatcher builds a matcher. Zero limits fall back to expr.DefaultLimits.
func NewRuleMatcher(rules repository.RuleRepository, logger *zap.Logger, metrics *observability.Metrics, limits expr.Limits) *RuleMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleMatcher{
		rules:   rules,
		logger:  logger.Named("matcher"),
		metrics: metrics,
		limits:  limits,
		cache:   make(map[string]compiledPredicate),
	}
}

// Match returns the first matching rule or domain.ErrNoMatchingRule.
// Broken custom predicates never match; they are logged as configuration warnings.
func (m *RuleMatcher) Match(ctx context.Context, in MatchInput) (*domain.AssignmentRule, error) {
	rules, err := m.rules.GetActiveRules(ctx, in.OrganizationID, in.RequestTypeID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	for i := range rules {
		rule := &rules[i]
		if i > 0 && rules[i-1].PriorityOrder == rule.PriorityOrder {
			m.logger.Warn("duplicate rule priority, lower id wins",
				zap.String("request_type_id", in.RequestTypeID),
				zap.Int("priority_order", rule.PriorityOrder),
				zap.String("kept_rule_id", rules[i-1].ID),
				zap.String("rule_id", rule.ID))
		}
		if m.matches(ctx, rule, in) {
			return rule, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrNoMatchingRule
}

func (m *RuleMatcher) matches(ctx context.Context, rule *domain.AssignmentRule, in MatchInput) bool {
	if rule.Type != domain.RuleTypeCustom {
		return true
	}
	program, err := m.compile(rule)
	if err != nil {
		m.predicateFailed(rule, "compile", err)
		return false
	}
	ok, err := program.Eval(ctx, predicateEnv(in), m.limits)
	if err != nil {
		m.predicateFailed(rule, "eval", err)
		return false
	}
	return ok
}

func (m *RuleMatcher) compile(rule *domain.AssignmentRule) (*expr.Program, error) {
	source := rule.Conditions.CustomLogic
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[rule.ID]; ok && cached.source == source {
		return cached.program, cached.err
	}
	program, err := expr.Compile(source)
	m.cache[rule.ID] = compiledPredicate{source: source, program: program, err: err}
	return program, err
}

func (m *RuleMatcher) predicateFailed(rule *domain.AssignmentRule, stage string, err error) {
	m.metrics.RecordPredicateFailure()
	m.logger.Warn("custom rule predicate failed, treating as no match",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.String("stage", stage),
		zap.Error(err))
}

func predicateEnv(in MatchInput) map[string]any {
	formData := in.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	return map[string]any{
		"priority":      string(in.Priority),
		"priority_rank": in.Priority.Rank(),
		"form_data":     formData,
	}
}
