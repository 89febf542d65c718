package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

// AssignmentService is the only writer of a request's candidate pool. It
// routes new requests and broadens pools on escalation.
type AssignmentService struct {
	requests repository.RequestRepository
	tickets  repository.EscalationTicketRepository
	matcher  *RuleMatcher
	resolver *EligibilityResolver
	selector *StrategySelector
	notifier Notifier
	activity *ActivityRecorder
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	RequestRepo  repository.RequestRepository
	TicketRepo   repository.EscalationTicketRepository
	ActivityRepo repository.ActivityRepository
	Matcher      *RuleMatcher
	Resolver     *EligibilityResolver
	Selector     *StrategySelector
	Notifier     Notifier
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &AssignmentService{
		requests: deps.RequestRepo,
		tickets:  deps.TicketRepo,
		matcher:  deps.Matcher,
		resolver: deps.Resolver,
		selector: deps.Selector,
		notifier: deps.Notifier,
		activity: NewActivityRecorder(deps.ActivityRepo, logger, deps.Metrics),
		logger:   logger.Named("assignment"),
		metrics:  deps.Metrics,
		now:      now,
	}
}

// Assign routes a submitted request: match a rule, resolve and rank its
// members, then store the pool and the escalation ticket together.
//
// When nothing matches or nobody is eligible the request stays submitted,
// admins are alerted and the returned error is domain.ErrNoMatchingRule or
// domain.ErrNoEligibleUsers alongside the unchanged request.
func (s *AssignmentService) Assign(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	rule, err := s.matcher.Match(ctx, MatchInput{
		OrganizationID: req.OrganizationID,
		RequestTypeID:  req.RequestTypeID,
		Priority:       req.Priority,
		FormData:       req.FormData,
	})
	if errors.Is(err, domain.ErrNoMatchingRule) {
		return s.leaveUnassigned(ctx, req, err, "no_rule")
	}
	if err != nil {
		return nil, err
	}

	members, err := s.resolver.Resolve(ctx, req, rule)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return s.leaveUnassigned(ctx, req, fmt.Errorf("rule %s: %w", rule.ID, domain.ErrNoEligibleUsers), "no_eligible_users")
	}

	pool, err := s.selector.Select(ctx, req.OrganizationID, rule, members)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ticket := domain.NewEscalationTicket(req, rule, now)
	assigned, err := s.requests.Assign(ctx, req.ID, rule.ID, pool, ticket)
	if err != nil {
		return nil, fmt.Errorf("assign request %s: %w", req.ID, err)
	}
	s.metrics.RecordAssignment("assigned")
	s.logger.Info("request assigned",
		zap.String("request_id", req.ID),
		zap.String("rule_id", rule.ID),
		zap.String("strategy", string(rule.Strategy)),
		zap.Int("candidates", len(pool)),
		zap.Time("deadline_at", ticket.DeadlineAt))

	update := domain.StatusChange(domain.UpdateAssigned, "Request assigned", req.Status, assigned.Status)
	update.Content = fmt.Sprintf("Offered to %d candidate(s) by rule %q", len(pool), rule.Name)
	s.activity.Update(ctx, req.ID, nil, update, now)
	s.notifier.OnAssigned(ctx, assigned, rule)
	return assigned, nil
}

func (s *AssignmentService) leaveUnassigned(ctx context.Context, req *domain.Request, cause error, outcome string) (*domain.Request, error) {
	s.metrics.RecordAssignment(outcome)
	s.logger.Warn("request left unassigned",
		zap.String("request_id", req.ID),
		zap.String("request_type_id", req.RequestTypeID),
		zap.Error(cause))
	s.activity.Update(ctx, req.ID, nil, domain.Update{
		Type:    domain.UpdateUnassigned,
		Title:   "Awaiting manual assignment",
		Content: cause.Error(),
	}, s.now())
	s.notifier.OnUnassigned(ctx, req, cause)
	return req, cause
}

// Broaden moves ticket to level and adds the members holding the level's
// roles to the request's pool. Existing candidates are kept. It returns the
// members that were added; domain.ErrClaimConflict means another worker
// already moved the ticket or the request left under_review.
func (s *AssignmentService) Broaden(ctx context.Context, ticket *domain.EscalationTicket, level domain.EscalationLevel, now time.Time) ([]string, error) {
	members, err := s.resolver.ResolveRoles(ctx, ticket.OrganizationID, level.Roles)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		s.logger.Warn("escalation level resolved to nobody",
			zap.String("request_id", ticket.RequestID),
			zap.Int("level", level.Level))
	}
	return s.tickets.Advance(ctx, ticket.RequestID, repository.AdvanceInput{
		FromLevel:   ticket.CurrentLevel,
		ToLevel:     level.Level,
		DeadlineAt:  now.Add(level.Timeout()),
		TargetRoles: level.Roles,
		Candidates:  domain.NewUserSet(domain.MemberIDs(members)...),
		Now:         now,
	})
}
