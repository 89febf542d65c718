// Package rulefile loads assignment rules and seed data from YAML documents.
package rulefile

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/service"
)

// RuleEntry is one rule as written in a rule file.
type RuleEntry struct {
	Name       string                 `yaml:"rule_name"`
	Type       domain.RuleType        `yaml:"rule_type"`
	Strategy   domain.Strategy        `yaml:"assignment_strategy"`
	IsActive   *bool                  `yaml:"is_active"`
	Conditions domain.Conditions      `yaml:"conditions"`
	Escalation domain.EscalationRules `yaml:"escalation_rules"`
}

// RuleFile is the document read by `rules import`. Rules keep file order as
// their priority order.
type RuleFile struct {
	Rules []RuleEntry `yaml:"rules"`
}

// ParseRules decodes a rule file. Unknown keys are rejected.
func ParseRules(r io.Reader) (*RuleFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file RuleFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return &file, nil
		}
		return nil, fmt.Errorf("decode rule file: %w", err)
	}
	return &file, nil
}

// Input converts the entry to a service input.
func (e RuleEntry) Input() service.RuleInput {
	return service.RuleInput{
		Name:       e.Name,
		Type:       e.Type,
		Strategy:   e.Strategy,
		IsActive:   e.IsActive,
		Conditions: e.Conditions,
		Escalation: e.Escalation,
	}
}

// Import creates every rule of file under requestTypeID. Rules are validated
// by the rule service; the first invalid entry stops the import and the
// rules created before it are returned.
func Import(ctx context.Context, rules *service.RuleService, viewer service.Viewer, requestTypeID string, file *RuleFile, logger *zap.Logger) ([]*domain.AssignmentRule, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	created := make([]*domain.AssignmentRule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := rules.Create(ctx, viewer, requestTypeID, entry.Input())
		if err != nil {
			return created, fmt.Errorf("rule %d (%s): %w", i+1, entry.Name, err)
		}
		created = append(created, rule)
	}
	logger.Info("rules imported",
		zap.String("organization_id", viewer.OrganizationID),
		zap.String("request_type_id", requestTypeID),
		zap.Int("count", len(created)))
	return created, nil
}

// SystemViewer acts on behalf of an operator with superadmin rights in orgID.
func SystemViewer(orgID string) service.Viewer {
	return service.Viewer{MemberID: "system", OrganizationID: orgID, Role: domain.RoleSuperAdmin}
}
