package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

func TestRuleServiceLifecycle(t *testing.T) {
	f := newFixture(t)
	admin := ViewerOf(f.addMember(t, "admin", domain.RoleAdmin, ""))
	ctx := context.Background()

	first, err := f.rules.Create(ctx, admin, testType, RuleInput{
		Name:       "managers",
		Type:       domain.RuleTypeRoleBased,
		Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleManager}},
		Escalation: domain.EscalationRules{Levels: []domain.EscalationLevel{{Roles: []domain.OrgRole{domain.RoleAdmin}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyFirstAvailable, first.Strategy)
	assert.Equal(t, domain.DefaultTimeoutHours, first.Escalation.TimeoutHours)
	assert.Equal(t, 1, first.Escalation.Levels[0].Level)
	assert.Equal(t, domain.DefaultLevelTimeoutHours, first.Escalation.Levels[0].TimeoutHours)

	second, err := f.rules.Create(ctx, admin, testType, RuleInput{
		Name:       "urgent",
		Type:       domain.RuleTypeCustom,
		Conditions: domain.Conditions{CustomLogic: `priority == "urgent"`, Roles: []domain.OrgRole{domain.RoleAdmin}},
	})
	require.NoError(t, err)
	assert.Greater(t, second.PriorityOrder, first.PriorityOrder)

	reordered, err := f.rules.Reorder(ctx, admin, testType, []string{second.ID, first.ID})
	require.NoError(t, err)
	require.Len(t, reordered, 2)
	assert.Equal(t, second.ID, reordered[0].ID)

	inactive := false
	_, err = f.rules.Update(ctx, admin, second.ID, RuleInput{
		Name:       "urgent",
		Type:       domain.RuleTypeCustom,
		IsActive:   &inactive,
		Conditions: domain.Conditions{CustomLogic: `priority == "urgent"`},
	})
	require.NoError(t, err)

	eligible, err := f.rules.GetEligibleRules(ctx, admin, testType)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, first.ID, eligible[0].ID)

	require.NoError(t, f.rules.Delete(ctx, admin, second.ID))
	all, err := f.rules.ListRules(ctx, admin, testType)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRuleServiceValidation(t *testing.T) {
	f := newFixture(t)
	admin := ViewerOf(f.addMember(t, "admin", domain.RoleAdmin, ""))
	manager := ViewerOf(f.addMember(t, "manager", domain.RoleManager, ""))
	ctx := context.Background()

	cases := []struct {
		name  string
		input RuleInput
	}{
		{"missing name", RuleInput{Type: domain.RuleTypeRoleBased, Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleAdmin}}}},
		{"unknown type", RuleInput{Name: "x", Type: "magic"}},
		{"role rule without roles", RuleInput{Name: "x", Type: domain.RuleTypeRoleBased}},
		{"mixed conditions", RuleInput{Name: "x", Type: domain.RuleTypeRoleBased, Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleAdmin}, JobRoles: []string{"it"}}}},
		{"bad predicate", RuleInput{Name: "x", Type: domain.RuleTypeCustom, Conditions: domain.Conditions{CustomLogic: `priority ==`}}},
		{"unknown strategy", RuleInput{Name: "x", Type: domain.RuleTypeRoleBased, Strategy: "random", Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleAdmin}}}},
		{"level without roles", RuleInput{Name: "x", Type: domain.RuleTypeRoleBased, Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleAdmin}}, Escalation: domain.EscalationRules{Levels: []domain.EscalationLevel{{Level: 1}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.rules.Create(ctx, admin, testType, tc.input)
			assert.ErrorIs(t, err, domain.ErrInvalidRule)
		})
	}

	_, err := f.rules.Create(ctx, manager, testType, RuleInput{Name: "x", Type: domain.RuleTypeRoleBased, Conditions: domain.Conditions{Roles: []domain.OrgRole{domain.RoleAdmin}}})
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "FORBIDDEN", domainErr.Code)

	_, err = f.rules.Reorder(ctx, admin, testType, []string{"a", "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}
