package events

import (
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestAssigned     EventType = "request_assigned"
	EventRequestEscalated    EventType = "request_escalated"
	EventRequestAccepted     EventType = "request_accepted"
	EventRequestCompleted    EventType = "request_completed"
	EventRequestCancelled    EventType = "request_cancelled"
	EventRequestUnassigned   EventType = "request_unassigned"
	EventEscalationExhausted EventType = "escalation_exhausted"
)

// ActorType tells members and the engine itself apart.
type ActorType string

const (
	ActorMember ActorType = "member"
	ActorSystem ActorType = "system"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type     ActorType `json:"type"`
	MemberID *string   `json:"member_id,omitempty"`
}

// MemberActor returns an actor for the given member.
func MemberActor(id string) Actor {
	return Actor{Type: ActorMember, MemberID: &id}
}

// SystemActor is used for scheduler driven events.
var SystemActor = Actor{Type: ActorSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	RequestID      string    `json:"request_id"`
	OrganizationID string    `json:"organization_id"`
	Actor          Actor     `json:"actor"`
	Timestamp      time.Time `json:"timestamp"`
	// Recipients are the members the event should reach. Empty means the org admins.
	Recipients []string `json:"recipients,omitempty"`
	Payload    any      `json:"payload"`
}

// RequestAssignedPayload is sent to every candidate of a new pool.
type RequestAssignedPayload struct {
	RuleID     string          `json:"rule_id"`
	Strategy   domain.Strategy `json:"strategy"`
	Candidates []string        `json:"candidates"`
	Title      string          `json:"title"`
}

// RequestEscalatedPayload is sent to the users added at an escalation level.
type RequestEscalatedPayload struct {
	Level       int              `json:"level"`
	Added       []string         `json:"added"`
	TargetRoles []domain.OrgRole `json:"target_roles"`
}

// RequestAcceptedPayload tells the requester who took the request and the
// other candidates that it is no longer actionable.
type RequestAcceptedPayload struct {
	AcceptedBy string   `json:"accepted_by"`
	Pruned     []string `json:"pruned"`
}

// RequestCompletedPayload payload.
type RequestCompletedPayload struct {
	CompletedBy string `json:"completed_by"`
	Notes       string `json:"notes,omitempty"`
}

// RequestCancelledPayload payload.
type RequestCancelledPayload struct {
	PreviousStatus   domain.RequestStatus `json:"previous_status"`
	PreviousAcceptor *string              `json:"previous_acceptor,omitempty"`
	Reason           string               `json:"reason,omitempty"`
}

// RequestUnassignedPayload alerts admins that no handler could be found.
type RequestUnassignedPayload struct {
	Reason string `json:"reason"`
	RuleID string `json:"rule_id,omitempty"`
}

// EscalationExhaustedPayload alerts admins that the chain ran out.
type EscalationExhaustedPayload struct {
	Level  int    `json:"level"`
	RuleID string `json:"rule_id"`
}
