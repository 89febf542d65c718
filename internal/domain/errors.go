package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoMatchingRule      = errors.New("no matching assignment rule")
	ErrNoEligibleUsers     = errors.New("no eligible users")
	ErrEscalationExhausted = errors.New("escalation levels exhausted")
	ErrClaimConflict       = errors.New("escalation ticket claimed elsewhere")
	ErrNotEligible         = errors.New("user is not in the candidate pool")
	ErrNotAcceptor         = errors.New("user is not the acceptor")
	ErrInvalidRule         = errors.New("invalid assignment rule")
)

// AlreadyAcceptedError is returned when another user won the accept race.
type AlreadyAcceptedError struct {
	By string
}

func (e *AlreadyAcceptedError) Error() string {
	return fmt.Sprintf("request already accepted by %s", e.By)
}

// InvalidTransitionError reports an illegal lifecycle move.
type InvalidTransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
