package dto

import (
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// CreateRequestRequest payload for POST /requests.
type CreateRequestRequest struct {
	RequestTypeID string          `json:"request_type_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Priority      domain.Priority `json:"priority"`
	FormData      map[string]any  `json:"form_data"`
}

// CompleteRequestRequest payload for POST /requests/:id/complete.
type CompleteRequestRequest struct {
	Notes string `json:"notes"`
}

// CancelRequestRequest payload for POST /requests/:id/cancel.
type CancelRequestRequest struct {
	Reason string `json:"reason"`
}

// AddCommentRequest payload for POST /requests/:id/comments.
type AddCommentRequest struct {
	Content    string `json:"content"`
	IsInternal bool   `json:"is_internal"`
}

// RequestResponse is the API view of a request.
type RequestResponse struct {
	ID              string               `json:"id"`
	OrganizationID  string               `json:"organization_id"`
	RequestTypeID   string               `json:"request_type_id"`
	RequestedBy     string               `json:"requested_by"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	Priority        domain.Priority      `json:"priority"`
	FormData        map[string]any       `json:"form_data,omitempty"`
	Status          domain.RequestStatus `json:"status"`
	AssignedTo      []string             `json:"assigned_to"`
	MatchedRuleID   *string              `json:"matched_rule_id,omitempty"`
	AcceptedBy      *string              `json:"accepted_by,omitempty"`
	AcceptedAt      *time.Time           `json:"accepted_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	CompletionNotes string               `json:"completion_notes,omitempty"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// TimelineEntry is one item of a merged request timeline.
type TimelineEntry struct {
	ID         string                `json:"id"`
	Kind       domain.ActivityKind   `json:"kind"`
	AuthorID   *string               `json:"author_id"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdateType domain.UpdateType     `json:"update_type,omitempty"`
	Title      string                `json:"title,omitempty"`
	Content    string                `json:"content,omitempty"`
	OldStatus  *domain.RequestStatus `json:"old_status,omitempty"`
	NewStatus  *domain.RequestStatus `json:"new_status,omitempty"`
	IsInternal bool                  `json:"is_internal,omitempty"`
}

// NewRequestResponse maps a domain request.
func NewRequestResponse(req *domain.Request) RequestResponse {
	return RequestResponse{
		ID:              req.ID,
		OrganizationID:  req.OrganizationID,
		RequestTypeID:   req.RequestTypeID,
		RequestedBy:     req.RequestedBy,
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		FormData:        req.FormData,
		Status:          req.Status,
		AssignedTo:      req.AssignedTo.Strings(),
		MatchedRuleID:   req.MatchedRuleID,
		AcceptedBy:      req.AcceptedBy,
		AcceptedAt:      req.AcceptedAt,
		CompletedAt:     req.CompletedAt,
		CompletionNotes: req.CompletionNotes,
		CancelledAt:     req.CancelledAt,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
	}
}

// NewTimelineEntry maps an activity entry.
func NewTimelineEntry(entry domain.ActivityEntry) TimelineEntry {
	out := TimelineEntry{
		ID:        entry.ID,
		Kind:      entry.Kind,
		AuthorID:  entry.AuthorID,
		CreatedAt: entry.CreatedAt,
	}
	switch {
	case entry.Update != nil:
		out.UpdateType = entry.Update.Type
		out.Title = entry.Update.Title
		out.Content = entry.Update.Content
		out.OldStatus = entry.Update.OldStatus
		out.NewStatus = entry.Update.NewStatus
	case entry.Comment != nil:
		out.Content = entry.Comment.Content
		out.IsInternal = entry.Comment.IsInternal
	}
	return out
}
