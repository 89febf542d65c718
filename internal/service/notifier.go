package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
)

// Notifier receives fire-and-forget engine notifications. Implementations
// must not block the caller on delivery.
type Notifier interface {
	OnAssigned(ctx context.Context, req *domain.Request, rule *domain.AssignmentRule)
	OnEscalated(ctx context.Context, ticket *domain.EscalationTicket, added []string)
	OnAccepted(ctx context.Context, req *domain.Request, pruned []string)
	OnCompleted(ctx context.Context, req *domain.Request)
	OnCancelled(ctx context.Context, previous, req *domain.Request, reason string)
	// OnUnassigned alerts admins that a request could not be routed.
	OnUnassigned(ctx context.Context, req *domain.Request, cause error)
	// OnEscalationExhausted alerts admins that a request ran out of fallbacks.
	OnEscalationExhausted(ctx context.Context, ticket *domain.EscalationTicket)
}

// EventNotifier turns notifications into events on a dispatcher.
type EventNotifier struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewEventNotifier builds a notifier publishing on dispatcher.
func NewEventNotifier(dispatcher events.Dispatcher, logger *zap.Logger, now func() time.Time) *EventNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &EventNotifier{dispatcher: dispatcher, logger: logger, now: now}
}

func (n *EventNotifier) OnAssigned(ctx context.Context, req *domain.Request, rule *domain.AssignmentRule) {
	n.publish(ctx, events.Event{
		Type:           events.EventRequestAssigned,
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		Actor:          events.SystemActor,
		Recipients:     req.AssignedTo.Strings(),
		Payload: events.RequestAssignedPayload{
			RuleID:     rule.ID,
			Strategy:   rule.Strategy,
			Candidates: req.AssignedTo.Strings(),
			Title:      req.Title,
		},
	})
}

func (n *EventNotifier) OnEscalated(ctx context.Context, ticket *domain.EscalationTicket, added []string) {
	n.publish(ctx, events.Event{
		Type:           events.EventRequestEscalated,
		RequestID:      ticket.RequestID,
		OrganizationID: ticket.OrganizationID,
		Actor:          events.SystemActor,
		Recipients:     added,
		Payload: events.RequestEscalatedPayload{
			Level:       ticket.CurrentLevel,
			Added:       added,
			TargetRoles: ticket.TargetRoles,
		},
	})
}

func (n *EventNotifier) OnAccepted(ctx context.Context, req *domain.Request, pruned []string) {
	winner := req.Acceptor()
	recipients := append([]string{req.RequestedBy}, pruned...)
	n.publish(ctx, events.Event{
		Type:           events.EventRequestAccepted,
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		Actor:          events.MemberActor(winner),
		Recipients:     domain.NewUserSet(recipients...).Strings(),
		Payload:        events.RequestAcceptedPayload{AcceptedBy: winner, Pruned: pruned},
	})
}

func (n *EventNotifier) OnCompleted(ctx context.Context, req *domain.Request) {
	n.publish(ctx, events.Event{
		Type:           events.EventRequestCompleted,
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		Actor:          events.MemberActor(req.Acceptor()),
		Recipients:     []string{req.RequestedBy},
		Payload:        events.RequestCompletedPayload{CompletedBy: req.Acceptor(), Notes: req.CompletionNotes},
	})
}

func (n *EventNotifier) OnCancelled(ctx context.Context, previous, req *domain.Request, reason string) {
	recipients := domain.NewUserSet(append([]string{req.RequestedBy}, previous.AssignedTo.Strings()...)...)
	n.publish(ctx, events.Event{
		Type:           events.EventRequestCancelled,
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		Actor:          events.SystemActor,
		Recipients:     recipients.Strings(),
		Payload: events.RequestCancelledPayload{
			PreviousStatus:   previous.Status,
			PreviousAcceptor: previous.AcceptedBy,
			Reason:           reason,
		},
	})
}

func (n *EventNotifier) OnUnassigned(ctx context.Context, req *domain.Request, cause error) {
	payload := events.RequestUnassignedPayload{Reason: unassignedReason(cause)}
	if req.MatchedRuleID != nil {
		payload.RuleID = *req.MatchedRuleID
	}
	n.publish(ctx, events.Event{
		Type:           events.EventRequestUnassigned,
		RequestID:      req.ID,
		OrganizationID: req.OrganizationID,
		Actor:          events.SystemActor,
		Payload:        payload,
	})
}

func (n *EventNotifier) OnEscalationExhausted(ctx context.Context, ticket *domain.EscalationTicket) {
	n.publish(ctx, events.Event{
		Type:           events.EventEscalationExhausted,
		RequestID:      ticket.RequestID,
		OrganizationID: ticket.OrganizationID,
		Actor:          events.SystemActor,
		Payload:        events.EscalationExhaustedPayload{Level: ticket.CurrentLevel, RuleID: ticket.RuleID},
	})
}

func (n *EventNotifier) publish(ctx context.Context, event events.Event) {
	if n.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = n.now()
	if err := n.dispatcher.Publish(ctx, event); err != nil {
		n.logger.Warn("notification not published",
			zap.String("event_type", string(event.Type)),
			zap.String("request_id", event.RequestID),
			zap.Error(err))
	}
}

func unassignedReason(cause error) string {
	switch {
	case errors.Is(cause, domain.ErrNoMatchingRule):
		return "no_matching_rule"
	case errors.Is(cause, domain.ErrNoEligibleUsers):
		return "no_eligible_users"
	default:
		return "assignment_failed"
	}
}
