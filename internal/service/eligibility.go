package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/repository"
)

// EligibilityResolver turns rule conditions into concrete members.
type EligibilityResolver struct {
	members repository.MemberRepository
	logger  *zap.Logger
}

// NewEligibilityResolver builds a resolver.
func NewEligibilityResolver(members repository.MemberRepository, logger *zap.Logger) *EligibilityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityResolver{members: members, logger: logger.Named("eligibility")}
}

// Resolve returns the active members eligible under rule for req,
// deduplicated in first-seen order and narrowed by the rule's expertise and
// geographic preferences. An empty result is not an error.
func (r *EligibilityResolver) Resolve(ctx context.Context, req *domain.Request, rule *domain.AssignmentRule) ([]domain.Member, error) {
	orgID := req.OrganizationID
	var (
		members []domain.Member
		err     error
	)
	c := rule.Conditions
	switch rule.Type {
	case domain.RuleTypeRoleBased:
		members, err = r.listByRoles(ctx, orgID, c.Roles)
	case domain.RuleTypeJobRoleBased:
		if len(c.JobRoles) == 0 {
			return nil, nil
		}
		members, err = r.members.ListByJobRoles(ctx, orgID, c.JobRoles)
	case domain.RuleTypeTeamHierarchy:
		if len(c.TeamIDs) == 0 {
			return nil, nil
		}
		members, err = r.members.ListByTeams(ctx, orgID, c.TeamIDs)
	case domain.RuleTypeCustom:
		members, err = r.listByRoles(ctx, orgID, customRuleRoles(rule))
	default:
		return nil, fmt.Errorf("%w: unknown rule_type %q", domain.ErrInvalidRule, rule.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve rule %s: %w", rule.ID, err)
	}
	members = dedupeMembers(members)
	if tags := c.ExpertiseRequired; len(tags) > 0 {
		members = narrow(members, func(m domain.Member) bool { return m.ExpertiseOverlap(tags) > 0 })
	}
	if loc := req.FormLocation(); c.GeographicPreference && loc != "" {
		members = narrow(members, func(m domain.Member) bool { return strings.EqualFold(m.Location, loc) })
	}
	return members, nil
}

// narrow keeps the members matching keep, or all of them when none match.
func narrow(members []domain.Member, keep func(domain.Member) bool) []domain.Member {
	var out []domain.Member
	for _, m := range members {
		if keep(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return members
	}
	return out
}

// ResolveRoles returns the active members holding any of roles.
func (r *EligibilityResolver) ResolveRoles(ctx context.Context, orgID string, roles []domain.OrgRole) ([]domain.Member, error) {
	members, err := r.listByRoles(ctx, orgID, roles)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	return dedupeMembers(members), nil
}

func (r *EligibilityResolver) listByRoles(ctx context.Context, orgID string, roles []domain.OrgRole) ([]domain.Member, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	return r.members.ListByRoles(ctx, orgID, roles)
}

// customRuleRoles uses the explicit roles of a custom rule, or else the role
// names its predicate mentions as string literals.
func customRuleRoles(rule *domain.AssignmentRule) []domain.OrgRole {
	if len(rule.Conditions.Roles) > 0 {
		return rule.Conditions.Roles
	}
	program, err := expr.Compile(rule.Conditions.CustomLogic)
	if err != nil {
		return nil
	}
	var roles []domain.OrgRole
	for _, lit := range program.StringLiterals() {
		if role := domain.OrgRole(lit); role.Valid() {
			roles = append(roles, role)
		}
	}
	return roles
}

func dedupeMembers(members []domain.Member) []domain.Member {
	seen := make(map[string]bool, len(members))
	out := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
