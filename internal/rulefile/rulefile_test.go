package rulefile

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository/memory"
	"github.com/spec-kit/request-engine/internal/service"
)

const ruleYAML = `
rules:
  - rule_name: Urgent to admins
    rule_type: custom
    conditions:
      custom_logic: priority == "urgent"
      roles: [admin]
  - rule_name: Finance desk
    rule_type: job_role_based
    assignment_strategy: load_balanced
    conditions:
      job_roles: [finance]
    escalation_rules:
      timeout_hours: 4
      escalation_levels:
        - roles: [manager]
        - roles: [admin, superadmin]
          timeout_hours: 8
`

func TestParseAndImportRules(t *testing.T) {
	file, err := ParseRules(strings.NewReader(ruleYAML))
	require.NoError(t, err)
	require.Len(t, file.Rules, 2)

	store := memory.New()
	rules := service.NewRuleService(store.Rules(), nil)
	created, err := Import(context.Background(), rules, SystemViewer("org-1"), "expenses", file, nil)
	require.NoError(t, err)
	require.Len(t, created, 2)

	stored, err := store.Rules().GetActiveRules(context.Background(), "org-1", "expenses")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Urgent to admins", stored[0].Name)
	assert.Equal(t, 1, stored[0].PriorityOrder)

	finance := stored[1]
	assert.Equal(t, domain.StrategyLoadBalanced, finance.Strategy)
	assert.Equal(t, 4, finance.Escalation.TimeoutHours)
	require.Len(t, finance.Escalation.Levels, 2)
	assert.Equal(t, 1, finance.Escalation.Levels[0].Level)
	assert.Equal(t, domain.DefaultLevelTimeoutHours, finance.Escalation.Levels[0].TimeoutHours)
	assert.Equal(t, 2, finance.Escalation.Levels[1].Level)
	assert.Equal(t, 8, finance.Escalation.Levels[1].TimeoutHours)
}

func TestImportStopsAtInvalidRule(t *testing.T) {
	file, err := ParseRules(strings.NewReader(`
rules:
  - rule_name: ok
    rule_type: role_based
    conditions:
      roles: [manager]
  - rule_name: broken
    rule_type: custom
    conditions:
      custom_logic: "priority =="
`))
	require.NoError(t, err)

	store := memory.New()
	created, err := Import(context.Background(), service.NewRuleService(store.Rules(), nil), SystemViewer("org-1"), "t", file, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
	assert.Len(t, created, 1)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := ParseRules(strings.NewReader("rules:\n  - rule_nme: typo\n"))
	assert.Error(t, err)
}

func TestSeedApply(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(`
organization_id: org-9
teams:
  - id: team-ops
    name: Operations
members:
  - id: ops-lead
    name: Ops Lead
    email: Ops.Lead@Example.com
    password: secret
    role: team_leader
    teams: [team-ops]
    location: Berlin
    expertise: [network, on-call]
  - id: boss
    name: Boss
    email: boss@example.com
    password: secret
    role: admin
request_types:
  - id: outage
    rules:
      - rule_name: Ops team
        rule_type: team_hierarchy
        conditions:
          team_ids: [team-ops]
          expertise_required: [network]
          geographic_preference: true
`))
	require.NoError(t, err)

	store := memory.New()
	ctx := context.Background()
	err = seed.Apply(ctx, SeedTargets{
		Members: store.Members(),
		Teams:   store.Teams(),
		Rules:   service.NewRuleService(store.Rules(), nil),
	}, 4)
	require.NoError(t, err)

	lead, err := store.Members().GetByEmail(ctx, "ops.lead@example.com")
	require.NoError(t, err)
	assert.Equal(t, "org-9", lead.OrganizationID)
	assert.NotEqual(t, "secret", lead.PasswordHash)
	assert.Equal(t, "Berlin", lead.Location)
	assert.Equal(t, []string{"network", "on-call"}, lead.ExpertiseTags)

	inTeam, err := store.Members().ListByTeams(ctx, "org-9", []string{"team-ops"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ops-lead"}, domain.MemberIDs(inTeam))

	rules, err := store.Rules().GetActiveRules(ctx, "org-9", "outage")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.RuleTypeTeamHierarchy, rules[0].Type)
	assert.Equal(t, []string{"network"}, rules[0].Conditions.ExpertiseRequired)
	assert.True(t, rules[0].Conditions.GeographicPreference)
}
