package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

// AcceptanceService guarantees at most one acceptor per request.
type AcceptanceService struct {
	requests repository.RequestRepository
	notifier Notifier
	activity *ActivityRecorder
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// AcceptanceDependencies bundles collaborators.
type AcceptanceDependencies struct {
	RequestRepo  repository.RequestRepository
	ActivityRepo repository.ActivityRepository
	Notifier     Notifier
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// NewAcceptanceService creates the service.
func NewAcceptanceService(deps AcceptanceDependencies) *AcceptanceService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &AcceptanceService{
		requests: deps.RequestRepo,
		notifier: deps.Notifier,
		activity: NewActivityRecorder(deps.ActivityRepo, logger, deps.Metrics),
		logger:   logger.Named("acceptance"),
		metrics:  deps.Metrics,
		now:      now,
	}
}

// Accept claims the request for userID with a single conditional write.
// Race losers get *domain.AlreadyAcceptedError naming the winner.
func (s *AcceptanceService) Accept(ctx context.Context, requestID, userID string) (*domain.Request, error) {
	now := s.now()
	req, err := s.requests.Accept(ctx, requestID, userID, now)
	if err != nil {
		s.metrics.RecordAccept(acceptOutcome(err))
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			s.logger.Error("accept rejected by lifecycle",
				zap.String("request_id", requestID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return nil, err
	}
	s.metrics.RecordAccept("accepted")

	update := domain.StatusChange(domain.UpdateAccepted, "Request accepted", domain.StatusUnderReview, req.Status)
	s.activity.Update(ctx, req.ID, strPtr(userID), update, now)
	s.notifier.OnAccepted(ctx, req, req.AssignedTo.Without(userID).Strings())
	return req, nil
}

// Complete finishes a request accepted by userID. Repeating the call after
// success returns the completed request without writing anything.
func (s *AcceptanceService) Complete(ctx context.Context, requestID, userID, notes string) (*domain.Request, error) {
	now := s.now()
	req, changed, err := s.requests.Complete(ctx, requestID, userID, notes, now)
	if err != nil {
		return nil, fmt.Errorf("complete request %s: %w", requestID, err)
	}
	if !changed {
		return req, nil
	}

	update := domain.StatusChange(domain.UpdateCompleted, "Request completed", domain.StatusInProgress, req.Status)
	update.Content = notes
	s.activity.Update(ctx, req.ID, strPtr(userID), update, now)
	s.notifier.OnCompleted(ctx, req)
	return req, nil
}

func acceptOutcome(err error) string {
	var already *domain.AlreadyAcceptedError
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.As(err, &already):
		return "already_accepted"
	case errors.As(err, &invalid):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
