package domain

import "time"

// ActivityKind tags an ActivityEntry.
type ActivityKind string

const (
	ActivityUpdate  ActivityKind = "update"
	ActivityComment ActivityKind = "comment"
)

// UpdateType captures what happened in an update entry.
type UpdateType string

const (
	UpdateCreated             UpdateType = "created"
	UpdateAssigned            UpdateType = "assigned"
	UpdateUnassigned          UpdateType = "unassigned"
	UpdateAccepted            UpdateType = "accepted"
	UpdateEscalated           UpdateType = "escalated"
	UpdateEscalationExhausted UpdateType = "escalation_exhausted"
	UpdateCompleted           UpdateType = "completed"
	UpdateCancelled           UpdateType = "cancelled"
)

// Update is a system or user generated status note.
type Update struct {
	Type      UpdateType
	Title     string
	Content   string
	OldStatus *RequestStatus
	NewStatus *RequestStatus
}

// Comment is free text attached to a request.
type Comment struct {
	Content    string
	IsInternal bool
}

// ActivityEntry is an immutable timeline item. Exactly one of Update or Comment is set.
// AuthorID is nil for system entries.
type ActivityEntry struct {
	ID        string
	RequestID string
	AuthorID  *string
	Kind      ActivityKind
	Update    *Update
	Comment   *Comment
	CreatedAt time.Time
}

// StatusChange returns an Update recording from -> to.
func StatusChange(kind UpdateType, title string, from, to RequestStatus) Update {
	return Update{Type: kind, Title: title, OldStatus: &from, NewStatus: &to}
}
