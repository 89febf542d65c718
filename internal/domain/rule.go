package domain

import (
	"fmt"
	"strings"
	"time"
)

// RuleType selects how a rule's conditions resolve to users.
type RuleType string

const (
	RuleTypeRoleBased     RuleType = "role_based"
	RuleTypeJobRoleBased  RuleType = "job_role_based"
	RuleTypeTeamHierarchy RuleType = "team_hierarchy"
	RuleTypeCustom        RuleType = "custom"
)

// Strategy ranks eligible users into a candidate pool.
type Strategy string

const (
	StrategyFirstAvailable Strategy = "first_available"
	StrategyLoadBalanced   Strategy = "load_balanced"
	StrategyExpertiseBased Strategy = "expertise_based"
)

const (
	DefaultTimeoutHours      = 48
	DefaultLevelTimeoutHours = 24
)

// Conditions holds the rule's matching inputs. Exactly one of roles, job
// roles, team ids or custom logic selects members per rule type. Expertise
// and geographic preference narrow the selection for any type.
type Conditions struct {
	Roles                []OrgRole `json:"roles,omitempty" yaml:"roles,omitempty"`
	JobRoles             []string  `json:"job_roles,omitempty" yaml:"job_roles,omitempty"`
	TeamIDs              []string  `json:"team_ids,omitempty" yaml:"team_ids,omitempty"`
	CustomLogic          string    `json:"custom_logic,omitempty" yaml:"custom_logic,omitempty"`
	ExpertiseRequired    []string  `json:"expertise_required,omitempty" yaml:"expertise_required,omitempty"`
	GeographicPreference bool      `json:"geographic_preference,omitempty" yaml:"geographic_preference,omitempty"`
}

// EscalationLevel is one fallback step.
type EscalationLevel struct {
	Level        int       `json:"level" yaml:"level"`
	Roles        []OrgRole `json:"roles" yaml:"roles"`
	TimeoutHours int       `json:"timeout_hours" yaml:"timeout_hours"`
}

// Timeout returns the level's deadline offset.
func (l EscalationLevel) Timeout() time.Duration {
	return time.Duration(l.TimeoutHours) * time.Hour
}

// EscalationRules configures the initial timeout and the fallback chain.
type EscalationRules struct {
	TimeoutHours int               `json:"timeout_hours" yaml:"timeout_hours"`
	Levels       []EscalationLevel `json:"escalation_levels" yaml:"escalation_levels"`
}

// InitialTimeout is the wait before the first escalation.
func (e EscalationRules) InitialTimeout() time.Duration {
	return time.Duration(e.TimeoutHours) * time.Hour
}

// Level returns escalation level n (1-based).
func (e EscalationRules) Level(n int) (EscalationLevel, bool) {
	if n < 1 || n > len(e.Levels) {
		return EscalationLevel{}, false
	}
	return e.Levels[n-1], true
}

// NewEscalationLevel builds the default level appended at position index.
func NewEscalationLevel(index int, roles ...OrgRole) EscalationLevel {
	return EscalationLevel{Level: index + 1, Roles: roles, TimeoutHours: DefaultLevelTimeoutHours}
}

// AssignmentRule maps a request type to eligible handlers.
type AssignmentRule struct {
	ID             string
	OrganizationID string
	RequestTypeID  string
	Name           string
	PriorityOrder  int
	Type           RuleType
	Strategy       Strategy
	IsActive       bool
	Conditions     Conditions
	Escalation     EscalationRules
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InitialTargetRoles returns the org roles addressed before any escalation.
func (r *AssignmentRule) InitialTargetRoles() []OrgRole {
	switch r.Type {
	case RuleTypeRoleBased, RuleTypeCustom:
		return append([]OrgRole(nil), r.Conditions.Roles...)
	default:
		return nil
	}
}

// ApplyDefaults fills unset strategy and timeouts.
func (r *AssignmentRule) ApplyDefaults() {
	if r.Strategy == "" {
		r.Strategy = StrategyFirstAvailable
	}
	if r.Escalation.TimeoutHours == 0 {
		r.Escalation.TimeoutHours = DefaultTimeoutHours
	}
	for i := range r.Escalation.Levels {
		if r.Escalation.Levels[i].Level == 0 {
			r.Escalation.Levels[i].Level = i + 1
		}
		if r.Escalation.Levels[i].TimeoutHours == 0 {
			r.Escalation.Levels[i].TimeoutHours = DefaultLevelTimeoutHours
		}
	}
}

// Validate checks structural consistency. The custom predicate is compiled elsewhere.
func (r *AssignmentRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalidRule("rule_name is required")
	}
	if r.RequestTypeID == "" || r.OrganizationID == "" {
		return invalidRule("organization and request type are required")
	}
	switch r.Strategy {
	case StrategyFirstAvailable, StrategyLoadBalanced, StrategyExpertiseBased:
	default:
		return invalidRule("unknown assignment_strategy %q", r.Strategy)
	}

	c := r.Conditions
	switch r.Type {
	case RuleTypeRoleBased:
		if len(c.Roles) == 0 || len(c.JobRoles) > 0 || len(c.TeamIDs) > 0 || c.CustomLogic != "" {
			return invalidRule("role_based rules take only conditions.roles")
		}
	case RuleTypeJobRoleBased:
		if len(c.JobRoles) == 0 || len(c.Roles) > 0 || len(c.TeamIDs) > 0 || c.CustomLogic != "" {
			return invalidRule("job_role_based rules take only conditions.job_roles")
		}
	case RuleTypeTeamHierarchy:
		if len(c.TeamIDs) == 0 || len(c.Roles) > 0 || len(c.JobRoles) > 0 || c.CustomLogic != "" {
			return invalidRule("team_hierarchy rules take only conditions.team_ids")
		}
	case RuleTypeCustom:
		if strings.TrimSpace(c.CustomLogic) == "" || len(c.JobRoles) > 0 || len(c.TeamIDs) > 0 {
			return invalidRule("custom rules take conditions.custom_logic and optional roles")
		}
	default:
		return invalidRule("unknown rule_type %q", r.Type)
	}
	for _, role := range c.Roles {
		if !role.Valid() {
			return invalidRule("unknown role %q", role)
		}
	}

	if r.Escalation.TimeoutHours <= 0 {
		return invalidRule("timeout_hours must be positive")
	}
	for i, lvl := range r.Escalation.Levels {
		if lvl.Level != i+1 {
			return invalidRule("escalation level %d is numbered %d", i+1, lvl.Level)
		}
		if lvl.TimeoutHours <= 0 {
			return invalidRule("escalation level %d: timeout_hours must be positive", lvl.Level)
		}
		if len(lvl.Roles) == 0 {
			return invalidRule("escalation level %d: roles are required", lvl.Level)
		}
		for _, role := range lvl.Roles {
			if !role.Valid() {
				return invalidRule("escalation level %d: unknown role %q", lvl.Level, role)
			}
		}
	}
	return nil
}

func invalidRule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}
