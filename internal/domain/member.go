package domain

import (
	"strings"
	"time"
)

// OrgRole enumerates organization roles, ordered by seniority.
type OrgRole string

const (
	RoleUser       OrgRole = "user"
	RoleTeamLeader OrgRole = "team_leader"
	RoleManager    OrgRole = "manager"
	RoleAdmin      OrgRole = "admin"
	RoleSuperAdmin OrgRole = "superadmin"
)

var roleSeniority = map[OrgRole]int{
	RoleUser:       1,
	RoleTeamLeader: 2,
	RoleManager:    3,
	RoleAdmin:      4,
	RoleSuperAdmin: 5,
}

// Seniority ranks the role. Unknown roles rank 0.
func (r OrgRole) Seniority() int {
	return roleSeniority[r]
}

// Valid reports whether r is a known role.
func (r OrgRole) Valid() bool {
	_, ok := roleSeniority[r]
	return ok
}

// CanManageRules reports whether the role may edit assignment rules.
func (r OrgRole) CanManageRules() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Member models a person belonging to an organization.
type Member struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	PasswordHash   string
	Role           OrgRole
	JobRole        string
	ExpertiseTags  []string
	Location       string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpertiseOverlap counts how many of tags the member holds.
func (m Member) ExpertiseOverlap(tags []string) int {
	n := 0
	for _, tag := range tags {
		for _, have := range m.ExpertiseTags {
			if strings.EqualFold(have, tag) {
				n++
				break
			}
		}
	}
	return n
}

// Workload is a member's share of open requests. Pending requests are offered
// to the member and not yet accepted; active ones are accepted by them.
type Workload struct {
	Pending int
	Active  int
}

// Score weighs pending work double, since any of it may still land on the member.
func (w Workload) Score() int {
	return w.Pending*2 + w.Active
}

// MemberIDs returns the ids of members in order.
func MemberIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
