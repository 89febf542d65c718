package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// Viewer identifies the member calling a request operation.
type Viewer struct {
	MemberID       string
	OrganizationID string
	Role           domain.OrgRole
}

// ViewerOf builds a Viewer for member.
func ViewerOf(member *domain.Member) Viewer {
	return Viewer{MemberID: member.ID, OrganizationID: member.OrganizationID, Role: member.Role}
}

// RequestService coordinates the request workflows exposed to the API.
type RequestService struct {
	requests   repository.RequestRepository
	activity   repository.ActivityRepository
	assignment *AssignmentService
	notifier   Notifier
	recorder   *ActivityRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// RequestDependencies bundles collaborators for the request service.
type RequestDependencies struct {
	RequestRepo  repository.RequestRepository
	ActivityRepo repository.ActivityRepository
	Assignment   *AssignmentService
	Notifier     Notifier
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// CreateRequestInput describes a new request.
type CreateRequestInput struct {
	RequestTypeID string
	Title         string
	Description   string
	Priority      domain.Priority
	FormData      map[string]any
}

// NewRequestService constructs the service.
func NewRequestService(deps RequestDependencies) *RequestService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RequestService{
		requests:   deps.RequestRepo,
		activity:   deps.ActivityRepo,
		assignment: deps.Assignment,
		notifier:   deps.Notifier,
		recorder:   NewActivityRecorder(deps.ActivityRepo, logger, deps.Metrics),
		logger:     logger.Named("requests"),
		now:        now,
	}
}

// Create stores a submitted request and routes it. A request nobody can be
// routed to is still created; it stays submitted and admins are alerted.
func (s *RequestService) Create(ctx context.Context, viewer Viewer, input CreateRequestInput) (*domain.Request, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if strings.TrimSpace(input.RequestTypeID) == "" {
		return nil, apperrors.NewValidationError("request_type_id is required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}

	now := s.now()
	req := &domain.Request{
		ID:             uuid.NewString(),
		OrganizationID: viewer.OrganizationID,
		RequestTypeID:  input.RequestTypeID,
		RequestedBy:    viewer.MemberID,
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Priority:       priority,
		FormData:       input.FormData,
		Status:         domain.StatusSubmitted,
		AssignedTo:     domain.UserSet{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	submitted := domain.StatusSubmitted
	s.recorder.Update(ctx, req.ID, strPtr(viewer.MemberID), domain.Update{
		Type:      domain.UpdateCreated,
		Title:     "Request submitted",
		NewStatus: &submitted,
	}, now)

	routed, err := s.assignment.Assign(ctx, req)
	switch {
	case errors.Is(err, domain.ErrNoMatchingRule), errors.Is(err, domain.ErrNoEligibleUsers):
		return routed, nil
	case err != nil:
		return nil, err
	}
	return routed, nil
}

// Get returns a request visible to viewer.
func (s *RequestService) Get(ctx context.Context, viewer Viewer, requestID string) (*domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OrganizationID != viewer.OrganizationID {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

// Cancel cancels a non-terminal request. Only the requester and rule
// managers may cancel.
func (s *RequestService) Cancel(ctx context.Context, viewer Viewer, requestID, reason string) (*domain.Request, error) {
	current, err := s.Get(ctx, viewer, requestID)
	if err != nil {
		return nil, err
	}
	if current.RequestedBy != viewer.MemberID && !viewer.Role.CanManageRules() {
		return nil, apperrors.NewForbidden("only the requester or an admin may cancel")
	}

	now := s.now()
	before, after, err := s.requests.Cancel(ctx, requestID, now)
	if err != nil {
		return nil, fmt.Errorf("cancel request %s: %w", requestID, err)
	}

	update := domain.StatusChange(domain.UpdateCancelled, "Request cancelled", before.Status, after.Status)
	var notes []string
	if reason = strings.TrimSpace(reason); reason != "" {
		notes = append(notes, reason)
	}
	if by := before.Acceptor(); by != "" {
		notes = append(notes, "previously accepted by "+by)
	}
	update.Content = strings.Join(notes, "; ")
	s.recorder.Update(ctx, requestID, strPtr(viewer.MemberID), update, now)
	s.notifier.OnCancelled(ctx, before, after, reason)
	return after, nil
}

// AddComment appends a comment. Members with the plain user role cannot
// write internal comments.
func (s *RequestService) AddComment(ctx context.Context, viewer Viewer, requestID, content string, internal bool) (*domain.ActivityEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("content is required", nil)
	}
	if internal && viewer.Role == domain.RoleUser {
		return nil, apperrors.NewForbidden("internal comments require a staff role")
	}
	if _, err := s.Get(ctx, viewer, requestID); err != nil {
		return nil, err
	}

	entry := &domain.ActivityEntry{
		ID:        newActivityID(),
		RequestID: requestID,
		AuthorID:  strPtr(viewer.MemberID),
		Kind:      domain.ActivityComment,
		Comment:   &domain.Comment{Content: content, IsInternal: internal},
		CreatedAt: s.now(),
	}
	if err := s.activity.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return entry, nil
}

// GetTimeline returns the merged update and comment feed of a request.
// Internal comments are hidden from members with the plain user role.
func (s *RequestService) GetTimeline(ctx context.Context, viewer Viewer, requestID string) ([]domain.ActivityEntry, error) {
	if _, err := s.Get(ctx, viewer, requestID); err != nil {
		return nil, err
	}
	updates, err := s.activity.ListUpdates(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	comments, err := s.activity.ListComments(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if viewer.Role == domain.RoleUser {
		visible := comments[:0]
		for _, c := range comments {
			if !c.Comment.IsInternal {
				visible = append(visible, c)
			}
		}
		comments = visible
	}
	return MergeTimeline(updates, comments), nil
}

// AssignmentAnalytics reports on the assignments of the viewer's organization
// over the last days days (DefaultAnalyticsDays when zero). Admins only.
func (s *RequestService) AssignmentAnalytics(ctx context.Context, viewer Viewer, days int) (domain.AssignmentStats, error) {
	if !viewer.Role.CanManageRules() {
		return domain.AssignmentStats{}, apperrors.NewForbidden("assignment analytics requires admin or superadmin")
	}
	if days == 0 {
		days = domain.DefaultAnalyticsDays
	}
	if days < 1 || days > domain.MaxAnalyticsDays {
		return domain.AssignmentStats{}, apperrors.NewValidationError("days out of range", map[string]any{
			"days": days,
			"max":  domain.MaxAnalyticsDays,
		})
	}
	until := s.now()
	stats, err := s.requests.AssignmentStats(ctx, viewer.OrganizationID, until.AddDate(0, 0, -days), until)
	if err != nil {
		return domain.AssignmentStats{}, fmt.Errorf("assignment stats: %w", err)
	}
	return stats, nil
}
