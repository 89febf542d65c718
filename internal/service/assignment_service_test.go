package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
)

func TestMatcherFirstMatchWins(t *testing.T) {
	f := newFixture(t)
	f.putRule(domain.AssignmentRule{
		ID:            "urgent",
		Name:          "urgent",
		PriorityOrder: 1,
		Type:          domain.RuleTypeCustom,
		Conditions:    domain.Conditions{CustomLogic: `priority == "urgent"`, Roles: []domain.OrgRole{domain.RoleAdmin}},
	})
	f.putRule(roleRule("fallback", 2, domain.RoleManager))

	matcher := NewRuleMatcher(f.store.Rules(), nil, nil, f.assignment.matcher.limits)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rule, err := matcher.Match(ctx, MatchInput{OrganizationID: testOrg, RequestTypeID: testType, Priority: domain.PriorityUrgent})
		require.NoError(t, err)
		assert.Equal(t, "urgent", rule.ID)

		rule, err = matcher.Match(ctx, MatchInput{OrganizationID: testOrg, RequestTypeID: testType, Priority: domain.PriorityLow})
		require.NoError(t, err)
		assert.Equal(t, "fallback", rule.ID)
	}
}

func TestMatcherDuplicatePriorityIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.putRule(roleRule("b-rule", 1, domain.RoleManager))
	f.putRule(roleRule("a-rule", 1, domain.RoleAdmin))

	for i := 0; i < 5; i++ {
		rule, err := f.assignment.matcher.Match(context.Background(), MatchInput{OrganizationID: testOrg, RequestTypeID: testType})
		require.NoError(t, err)
		assert.Equal(t, "a-rule", rule.ID)
	}
}

func TestMatcherBrokenPredicateNeverMatches(t *testing.T) {
	f := newFixture(t)
	f.putRule(domain.AssignmentRule{
		ID:            "broken",
		Name:          "broken",
		PriorityOrder: 1,
		Type:          domain.RuleTypeCustom,
		Conditions:    domain.Conditions{CustomLogic: `priority ==`},
	})
	f.putRule(roleRule("fallback", 2, domain.RoleManager))

	rule, err := f.assignment.matcher.Match(context.Background(), MatchInput{OrganizationID: testOrg, RequestTypeID: testType})
	require.NoError(t, err)
	assert.Equal(t, "fallback", rule.ID)
}

func TestMatcherIgnoresInactiveRules(t *testing.T) {
	f := newFixture(t)
	rule := roleRule("inactive", 1, domain.RoleManager)
	rule.OrganizationID, rule.RequestTypeID = testOrg, testType
	rule.ApplyDefaults()
	f.store.PutRule(rule)

	_, err := f.assignment.matcher.Match(context.Background(), MatchInput{OrganizationID: testOrg, RequestTypeID: testType})
	assert.ErrorIs(t, err, domain.ErrNoMatchingRule)
}

func TestEligibilityResolver(t *testing.T) {
	f := newFixture(t)
	f.addMember(t, "mgr-1", domain.RoleManager, "it")
	f.addMember(t, "adm-1", domain.RoleAdmin, "finance")
	f.addMember(t, "usr-1", domain.RoleUser, "it")
	gone := &domain.Member{ID: "mgr-2", OrganizationID: testOrg, Role: domain.RoleManager, Active: false}
	require.NoError(t, f.store.Members().Create(context.Background(), gone))
	other := &domain.Member{ID: "mgr-x", OrganizationID: "org-2", Role: domain.RoleManager, Active: true}
	require.NoError(t, f.store.Members().Create(context.Background(), other))

	resolver := NewEligibilityResolver(f.store.Members(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		rule domain.AssignmentRule
		want []string
	}{
		{"role based", roleRule("r", 1, domain.RoleManager, domain.RoleAdmin), []string{"mgr-1", "adm-1"}},
		{"job role based", domain.AssignmentRule{Type: domain.RuleTypeJobRoleBased, Conditions: domain.Conditions{JobRoles: []string{"it"}}}, []string{"mgr-1", "usr-1"}},
		{"custom with literal roles", domain.AssignmentRule{Type: domain.RuleTypeCustom, Conditions: domain.Conditions{CustomLogic: `form_data.escalate_to == "admin"`}}, []string{"adm-1"}},
		{"no roles", domain.AssignmentRule{Type: domain.RuleTypeRoleBased}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			members, err := resolver.Resolve(ctx, &domain.Request{OrganizationID: testOrg}, &tc.rule)
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, members)
				return
			}
			assert.Equal(t, tc.want, domain.MemberIDs(members))
		})
	}
}

func TestStrategySelector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	members := []domain.Member{
		{ID: "tl", Role: domain.RoleTeamLeader},
		{ID: "adm", Role: domain.RoleAdmin},
		{ID: "mgr", Role: domain.RoleManager},
	}

	busy := &domain.Request{
		ID: "busy", OrganizationID: testOrg, Status: domain.StatusUnderReview,
		AssignedTo: domain.NewUserSet("tl", "adm"),
	}
	require.NoError(t, f.store.Requests().Create(ctx, busy))
	busier := &domain.Request{
		ID: "busier", OrganizationID: testOrg, Status: domain.StatusUnderReview,
		AssignedTo: domain.NewUserSet("tl"),
	}
	require.NoError(t, f.store.Requests().Create(ctx, busier))

	selector := NewStrategySelector(f.store.Requests())
	withStrategy := func(s domain.Strategy) *domain.AssignmentRule {
		return &domain.AssignmentRule{Strategy: s}
	}

	pool, err := selector.Select(ctx, testOrg, withStrategy(domain.StrategyFirstAvailable), members)
	require.NoError(t, err)
	assert.Equal(t, domain.UserSet{"tl", "adm", "mgr"}, pool)

	pool, err = selector.Select(ctx, testOrg, withStrategy(domain.StrategyLoadBalanced), members)
	require.NoError(t, err)
	assert.Equal(t, domain.UserSet{"mgr", "adm", "tl"}, pool)

	pool, err = selector.Select(ctx, testOrg, withStrategy(domain.StrategyExpertiseBased), members)
	require.NoError(t, err)
	assert.Equal(t, domain.UserSet{"adm", "mgr", "tl"}, pool)

	_, err = selector.Select(ctx, testOrg, withStrategy("round_robin"), members)
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestLoadBalancedWeighsPendingDouble(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	members := []domain.Member{{ID: "reviewer"}, {ID: "worker"}}

	// reviewer: two offers awaiting acceptance, score 4.
	// worker: three accepted requests in progress, score 3.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.Requests().Create(ctx, &domain.Request{
			OrganizationID: testOrg, Status: domain.StatusUnderReview,
			AssignedTo: domain.NewUserSet("reviewer"),
		}))
	}
	worker := "worker"
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Requests().Create(ctx, &domain.Request{
			OrganizationID: testOrg, Status: domain.StatusInProgress,
			AssignedTo: domain.NewUserSet("worker"), AcceptedBy: &worker,
		}))
	}

	workloads, err := f.store.Requests().Workloads(ctx, testOrg, []string{"reviewer", "worker"})
	require.NoError(t, err)
	assert.Equal(t, domain.Workload{Pending: 2}, workloads["reviewer"])
	assert.Equal(t, domain.Workload{Active: 3}, workloads["worker"])

	pool, err := NewStrategySelector(f.store.Requests()).Select(ctx, testOrg,
		&domain.AssignmentRule{Strategy: domain.StrategyLoadBalanced}, members)
	require.NoError(t, err)
	assert.Equal(t, domain.UserSet{"worker", "reviewer"}, pool)
}

func TestExpertiseBasedRanksByOverlapThenSeniority(t *testing.T) {
	f := newFixture(t)
	members := []domain.Member{
		{ID: "adm", Role: domain.RoleAdmin},
		{ID: "tl", Role: domain.RoleTeamLeader, ExpertiseTags: []string{"network"}},
		{ID: "mgr", Role: domain.RoleManager, ExpertiseTags: []string{"network"}},
		{ID: "usr", Role: domain.RoleUser, ExpertiseTags: []string{"Network", "hardware"}},
	}
	rule := &domain.AssignmentRule{
		Strategy:   domain.StrategyExpertiseBased,
		Conditions: domain.Conditions{ExpertiseRequired: []string{"network", "hardware"}},
	}

	pool, err := NewStrategySelector(f.store.Requests()).Select(context.Background(), testOrg, rule, members)
	require.NoError(t, err)
	assert.Equal(t, domain.UserSet{"usr", "mgr", "tl", "adm"}, pool)
}

func TestResolveNarrowsByExpertiseAndLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, m := range []domain.Member{
		{ID: "net-berlin", Role: domain.RoleManager, ExpertiseTags: []string{"network"}, Location: "Berlin"},
		{ID: "net-paris", Role: domain.RoleManager, ExpertiseTags: []string{"network", "vpn"}, Location: "Paris"},
		{ID: "hr-berlin", Role: domain.RoleManager, ExpertiseTags: []string{"payroll"}, Location: "Berlin"},
	} {
		m.OrganizationID = testOrg
		m.Active = true
		require.NoError(t, f.store.Members().Create(ctx, &m))
	}
	resolver := NewEligibilityResolver(f.store.Members(), nil)
	managers := roleRule("mgrs", 1, domain.RoleManager)

	cases := []struct {
		name      string
		expertise []string
		geo       bool
		location  string
		want      []string
	}{
		{"no filters", nil, false, "", []string{"net-berlin", "net-paris", "hr-berlin"}},
		{"expertise overlap", []string{"vpn", "network"}, false, "", []string{"net-berlin", "net-paris"}},
		{"unmatched expertise keeps everyone", []string{"legal"}, false, "", []string{"net-berlin", "net-paris", "hr-berlin"}},
		{"local candidates preferred", nil, true, "berlin", []string{"net-berlin", "hr-berlin"}},
		{"no local candidate keeps everyone", nil, true, "Madrid", []string{"net-berlin", "net-paris", "hr-berlin"}},
		{"location ignored without preference", nil, false, "Paris", []string{"net-berlin", "net-paris", "hr-berlin"}},
		{"expertise then location", []string{"network"}, true, "Paris", []string{"net-paris"}},
		{"preference without request location", []string{"network"}, true, "", []string{"net-berlin", "net-paris"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := managers
			rule.Conditions.ExpertiseRequired = tc.expertise
			rule.Conditions.GeographicPreference = tc.geo
			req := &domain.Request{OrganizationID: testOrg, FormData: map[string]any{}}
			if tc.location != "" {
				req.FormData["location"] = tc.location
			}

			members, err := resolver.Resolve(ctx, req, &rule)
			require.NoError(t, err)
			assert.Equal(t, tc.want, domain.MemberIDs(members))
		})
	}
}

func TestCreateAssignsAndStartsEscalation(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	f.addMember(t, "mgr-1", domain.RoleManager, "")
	f.addMember(t, "mgr-2", domain.RoleManager, "")
	rule := roleRule("managers", 1, domain.RoleManager)
	rule.Escalation = domain.EscalationRules{TimeoutHours: 2}
	f.putRule(rule)

	req := f.submit(t, requester, "")
	assert.Equal(t, domain.StatusUnderReview, req.Status)
	assert.Equal(t, domain.PriorityMedium, req.Priority)
	assert.Equal(t, domain.UserSet{"mgr-1", "mgr-2"}, req.AssignedTo)
	require.NotNil(t, req.MatchedRuleID)
	assert.Equal(t, "managers", *req.MatchedRuleID)
	assert.Equal(t, []string{req.ID}, f.notifier.assigned)

	ticket, err := f.store.Tickets().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ticket.CurrentLevel)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), ticket.DeadlineAt)
}

func TestCreateWithoutMatchingRuleStaysSubmitted(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")

	req := f.submit(t, requester, domain.PriorityHigh)
	assert.Equal(t, domain.StatusSubmitted, req.Status)
	assert.Empty(t, req.AssignedTo)

	require.Len(t, f.notifier.unassigned, 1)
	assert.ErrorIs(t, f.notifier.unassigned[0], domain.ErrNoMatchingRule)
	assert.Empty(t, f.notifier.assigned)

	_, err := f.store.Tickets().Get(context.Background(), req.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	timeline, err := f.requests.GetTimeline(context.Background(), ViewerOf(requester), req.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.UpdateCreated, timeline[0].Update.Type)
	assert.Equal(t, domain.UpdateUnassigned, timeline[1].Update.Type)
}

func TestCreateWithNoEligibleUsers(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	f.putRule(roleRule("admins", 1, domain.RoleAdmin))

	req := f.submit(t, requester, domain.PriorityLow)
	assert.Equal(t, domain.StatusSubmitted, req.Status)
	require.Len(t, f.notifier.unassigned, 1)
	assert.ErrorIs(t, f.notifier.unassigned[0], domain.ErrNoEligibleUsers)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	ctx := context.Background()

	_, err := f.requests.Create(ctx, ViewerOf(requester), CreateRequestInput{RequestTypeID: testType, Title: "  "})
	assert.Error(t, err)
	_, err = f.requests.Create(ctx, ViewerOf(requester), CreateRequestInput{RequestTypeID: testType, Title: "x", Priority: "critical"})
	assert.Error(t, err)
	_, err = f.requests.Create(ctx, ViewerOf(requester), CreateRequestInput{Title: "x"})
	assert.Error(t, err)
}
