package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository"
)

// StrategySelector orders eligible members into a candidate pool. Every
// member stays in the pool; the strategy only decides the order.
type StrategySelector struct {
	requests repository.RequestRepository
}

// NewStrategySelector builds a selector. requests feeds load_balanced.
func NewStrategySelector(requests repository.RequestRepository) *StrategySelector {
	return &StrategySelector{requests: requests}
}

// Select ranks members according to the rule's strategy. load_balanced puts
// the lowest workload score first; expertise_based ranks by overlap with the
// rule's required expertise, then by seniority.
func (s *StrategySelector) Select(ctx context.Context, orgID string, rule *domain.AssignmentRule, members []domain.Member) (domain.UserSet, error) {
	ranked := append([]domain.Member(nil), members...)
	switch rule.Strategy {
	case domain.StrategyFirstAvailable, "":
	case domain.StrategyLoadBalanced:
		workloads, err := s.requests.Workloads(ctx, orgID, domain.MemberIDs(ranked))
		if err != nil {
			return nil, fmt.Errorf("load workloads: %w", err)
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return workloads[ranked[i].ID].Score() < workloads[ranked[j].ID].Score()
		})
	case domain.StrategyExpertiseBased:
		tags := rule.Conditions.ExpertiseRequired
		sort.SliceStable(ranked, func(i, j int) bool {
			oi, oj := ranked[i].ExpertiseOverlap(tags), ranked[j].ExpertiseOverlap(tags)
			if oi != oj {
				return oi > oj
			}
			return ranked[i].Role.Seniority() > ranked[j].Role.Seniority()
		})
	default:
		return nil, fmt.Errorf("%w: unknown assignment_strategy %q", domain.ErrInvalidRule, rule.Strategy)
	}
	return domain.NewUserSet(domain.MemberIDs(ranked)...), nil
}
