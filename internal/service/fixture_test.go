package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/repository/memory"
)

const (
	testOrg  = "org-1"
	testType = "it-support"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cancelledCall struct {
	requestID string
	previous  domain.RequestStatus
	reason    string
}

type recordingNotifier struct {
	mu         sync.Mutex
	assigned   []string
	escalated  map[string][][]string
	accepted   map[string][]string
	completed  []string
	cancelled  []cancelledCall
	unassigned []error
	exhausted  []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		escalated: make(map[string][][]string),
		accepted:  make(map[string][]string),
	}
}

func (n *recordingNotifier) OnAssigned(_ context.Context, req *domain.Request, _ *domain.AssignmentRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, req.ID)
}

func (n *recordingNotifier) OnEscalated(_ context.Context, ticket *domain.EscalationTicket, added []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalated[ticket.RequestID] = append(n.escalated[ticket.RequestID], added)
}

func (n *recordingNotifier) OnAccepted(_ context.Context, req *domain.Request, pruned []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted[req.ID] = pruned
}

func (n *recordingNotifier) OnCompleted(_ context.Context, req *domain.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, req.ID)
}

func (n *recordingNotifier) OnCancelled(_ context.Context, previous, req *domain.Request, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, cancelledCall{requestID: req.ID, previous: previous.Status, reason: reason})
}

func (n *recordingNotifier) OnUnassigned(_ context.Context, _ *domain.Request, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unassigned = append(n.unassigned, cause)
}

func (n *recordingNotifier) OnEscalationExhausted(_ context.Context, ticket *domain.EscalationTicket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, ticket.RequestID)
}

type fixture struct {
	store      *memory.Store
	clock      *fakeClock
	notifier   *recordingNotifier
	assignment *AssignmentService
	acceptance *AcceptanceService
	requests   *RequestService
	rules      *RuleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := &fakeClock{now: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)}
	notifier := newRecordingNotifier()

	assignment := NewAssignmentService(AssignmentDependencies{
		RequestRepo:  store.Requests(),
		TicketRepo:   store.Tickets(),
		ActivityRepo: store.Activity(),
		Matcher:      NewRuleMatcher(store.Rules(), nil, nil, expr.Limits{}),
		Resolver:     NewEligibilityResolver(store.Members(), nil),
		Selector:     NewStrategySelector(store.Requests()),
		Notifier:     notifier,
		Now:          clock.Now,
	})
	return &fixture{
		store:      store,
		clock:      clock,
		notifier:   notifier,
		assignment: assignment,
		acceptance: NewAcceptanceService(AcceptanceDependencies{
			RequestRepo:  store.Requests(),
			ActivityRepo: store.Activity(),
			Notifier:     notifier,
			Now:          clock.Now,
		}),
		requests: NewRequestService(RequestDependencies{
			RequestRepo:  store.Requests(),
			ActivityRepo: store.Activity(),
			Assignment:   assignment,
			Notifier:     notifier,
			Now:          clock.Now,
		}),
		rules: NewRuleService(store.Rules(), nil),
	}
}

func (f *fixture) addMember(t *testing.T, id string, role domain.OrgRole, jobRole string) *domain.Member {
	t.Helper()
	m := &domain.Member{
		ID:             id,
		OrganizationID: testOrg,
		Name:           id,
		Email:          id + "@example.com",
		Role:           role,
		JobRole:        jobRole,
		Active:         true,
	}
	require.NoError(t, f.store.Members().Create(context.Background(), m))
	return m
}

func (f *fixture) putRule(rule domain.AssignmentRule) domain.AssignmentRule {
	if rule.OrganizationID == "" {
		rule.OrganizationID = testOrg
	}
	if rule.RequestTypeID == "" {
		rule.RequestTypeID = testType
	}
	rule.IsActive = true
	rule.ApplyDefaults()
	f.store.PutRule(rule)
	return rule
}

func (f *fixture) submit(t *testing.T, requester *domain.Member, priority domain.Priority) *domain.Request {
	t.Helper()
	req, err := f.requests.Create(context.Background(), ViewerOf(requester), CreateRequestInput{
		RequestTypeID: testType,
		Title:         "Laptop does not boot",
		Priority:      priority,
	})
	require.NoError(t, err)
	return req
}

func roleRule(id string, order int, roles ...domain.OrgRole) domain.AssignmentRule {
	return domain.AssignmentRule{
		ID:            id,
		Name:          id,
		PriorityOrder: order,
		Type:          domain.RuleTypeRoleBased,
		Conditions:    domain.Conditions{Roles: roles},
	}
}
