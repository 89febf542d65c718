package domain

import (
	"errors"
	"time"
)

var allowedTransitions = map[RequestStatus][]RequestStatus{
	StatusSubmitted:   {StatusUnderReview, StatusCancelled},
	StatusUnderReview: {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the request to the target status and applies the
// field changes tied to it. The request is left untouched on error.
// actorID is required when moving to in_progress.
func (r *Request) Transition(to RequestStatus, actorID string, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &InvalidTransitionError{From: r.Status, To: to}
	}
	switch to {
	case StatusInProgress:
		if actorID == "" {
			return errors.New("accept requires an actor")
		}
		r.AcceptedBy = &actorID
		r.AcceptedAt = &now
	case StatusCompleted:
		r.CompletedAt = &now
	case StatusCancelled:
		r.AcceptedBy = nil
		r.AcceptedAt = nil
		r.CancelledAt = &now
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}
