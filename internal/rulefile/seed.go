package rulefile

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
)

// SeedMember is a member with a plaintext password, hashed on load.
type SeedMember struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Email     string         `yaml:"email"`
	Password  string         `yaml:"password"`
	Role      domain.OrgRole `yaml:"role"`
	JobRole   string         `yaml:"job_role"`
	Teams     []string       `yaml:"teams"`
	Location  string         `yaml:"location"`
	Expertise []string       `yaml:"expertise"`
}

// SeedTeam declares a team by id.
type SeedTeam struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SeedRequestType groups the rules of one request type.
type SeedRequestType struct {
	ID    string      `yaml:"id"`
	Rules []RuleEntry `yaml:"rules"`
}

// SeedFile bootstraps one organization, typically for `serve --memory`.
type SeedFile struct {
	OrganizationID string            `yaml:"organization_id"`
	Teams          []SeedTeam        `yaml:"teams"`
	Members        []SeedMember      `yaml:"members"`
	RequestTypes   []SeedRequestType `yaml:"request_types"`
}

// ParseSeed decodes a seed document.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file SeedFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if file.OrganizationID == "" {
		return nil, fmt.Errorf("decode seed file: organization_id is required")
	}
	return &file, nil
}

// SeedTargets are the repositories a seed is written to.
type SeedTargets struct {
	Members repository.MemberRepository
	Teams   repository.TeamRepository
	Rules   *service.RuleService
}

// Apply writes the seed. Member passwords are hashed with bcryptCost.
func (f *SeedFile) Apply(ctx context.Context, to SeedTargets, bcryptCost int) error {
	for _, t := range f.Teams {
		team := &domain.Team{
			ID:             t.ID,
			OrganizationID: f.OrganizationID,
			Name:           t.Name,
			IsActive:       true,
		}
		if err := to.Teams.Create(ctx, team); err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}

	for _, m := range f.Members {
		if !m.Role.Valid() {
			return fmt.Errorf("seed member %s: unknown role %q", m.Email, m.Role)
		}
		hash, err := auth.HashPassword(m.Password, bcryptCost)
		if err != nil {
			return fmt.Errorf("seed member %s: %w", m.Email, err)
		}
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		member := &domain.Member{
			ID:             id,
			OrganizationID: f.OrganizationID,
			Name:           m.Name,
			Email:          strings.ToLower(m.Email),
			PasswordHash:   hash,
			Role:           m.Role,
			JobRole:        m.JobRole,
			ExpertiseTags:  m.Expertise,
			Location:       m.Location,
			Active:         true,
		}
		if err := to.Members.Create(ctx, member); err != nil {
			return fmt.Errorf("seed member %s: %w", m.Email, err)
		}
		for _, teamID := range m.Teams {
			if err := to.Teams.AddMember(ctx, teamID, id); err != nil {
				return fmt.Errorf("seed member %s into team %s: %w", m.Email, teamID, err)
			}
		}
	}

	viewer := SystemViewer(f.OrganizationID)
	for _, rt := range f.RequestTypes {
		if _, err := Import(ctx, to.Rules, viewer, rt.ID, &RuleFile{Rules: rt.Rules}, nil); err != nil {
			return fmt.Errorf("seed request type %s: %w", rt.ID, err)
		}
	}
	return nil
}
