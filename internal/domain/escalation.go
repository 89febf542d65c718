package domain

import "time"

// EscalationTicket is the persisted deadline for an unaccepted request.
// CurrentLevel 0 means the initial timeout is pending. TargetRoles names the
// org roles notified at CurrentLevel; at level 0 it is empty unless the rule
// selects by role, since job-role and team rules target the assignees
// recorded on the request instead.
type EscalationTicket struct {
	RequestID      string
	OrganizationID string
	RuleID         string
	CurrentLevel   int
	DeadlineAt     time.Time
	TargetRoles    []OrgRole
	Exhausted      bool
	ClaimedBy      *string
	ClaimedUntil   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewEscalationTicket registers the initial deadline for a freshly assigned request.
func NewEscalationTicket(req *Request, rule *AssignmentRule, now time.Time) *EscalationTicket {
	return &EscalationTicket{
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		RuleID:         rule.ID,
		CurrentLevel:   0,
		DeadlineAt:     now.Add(rule.Escalation.InitialTimeout()),
		TargetRoles:    rule.InitialTargetRoles(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Due reports whether the ticket should be processed at now.
func (t *EscalationTicket) Due(now time.Time) bool {
	return !t.Exhausted && !t.DeadlineAt.After(now)
}
