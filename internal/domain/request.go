package domain

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus enumerates lifecycle states for requests.
type RequestStatus string

const (
	StatusSubmitted   RequestStatus = "submitted"
	StatusUnderReview RequestStatus = "under_review"
	StatusInProgress  RequestStatus = "in_progress"
	StatusCompleted   RequestStatus = "completed"
	StatusCancelled   RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Accepted reports whether the status requires an acceptor.
func (s RequestStatus) Accepted() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// Priority enumerates request urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// Rank maps priority to 1..4, or 0 when unknown.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Request is the aggregate routed by the assignment engine.
type Request struct {
	ID              string
	OrganizationID  string
	RequestTypeID   string
	RequestedBy     string
	Title           string
	Description     string
	Priority        Priority
	FormData        map[string]any
	Status          RequestStatus
	AssignedTo      UserSet
	MatchedRuleID   *string
	AcceptedBy      *string
	AcceptedAt      *time.Time
	CompletedAt     *time.Time
	CompletionNotes string
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckInvariants verifies accepted_by is set exactly when the status requires it.
func (r *Request) CheckInvariants() error {
	hasAcceptor := r.AcceptedBy != nil && *r.AcceptedBy != ""
	if hasAcceptor != r.Status.Accepted() {
		return fmt.Errorf("request %s: status %s with accepted_by=%v", r.ID, r.Status, hasAcceptor)
	}
	return nil
}

// Acceptor returns accepted_by or an empty string.
func (r *Request) Acceptor() string {
	if r.AcceptedBy == nil {
		return ""
	}
	return *r.AcceptedBy
}

// FormLocation returns form_data.location when it is a non-empty string.
func (r *Request) FormLocation() string {
	loc, _ := r.FormData["location"].(string)
	return strings.TrimSpace(loc)
}

// Clone returns a deep copy safe to hand to callers.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AssignedTo = r.AssignedTo.Clone()
	if r.FormData != nil {
		cp.FormData = make(map[string]any, len(r.FormData))
		for k, v := range r.FormData {
			cp.FormData[k] = v
		}
	}
	cp.MatchedRuleID = cloneString(r.MatchedRuleID)
	cp.AcceptedBy = cloneString(r.AcceptedBy)
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.CancelledAt = cloneTime(r.CancelledAt)
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
