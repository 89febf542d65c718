package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

// ActivityRecorder appends timeline entries after a state change has been
// committed. Failures are logged and counted but never reported to callers.
type ActivityRecorder struct {
	repo    repository.ActivityRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewActivityRecorder builds a recorder writing to repo.
func NewActivityRecorder(repo repository.ActivityRepository, logger *zap.Logger, metrics *observability.Metrics) *ActivityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityRecorder{repo: repo, logger: logger, metrics: metrics}
}

// Update records a system entry when authorID is nil.
func (a *ActivityRecorder) Update(ctx context.Context, requestID string, authorID *string, update domain.Update, at time.Time) {
	entry := &domain.ActivityEntry{
		ID:        newActivityID(),
		RequestID: requestID,
		AuthorID:  authorID,
		Kind:      domain.ActivityUpdate,
		Update:    &update,
		CreatedAt: at,
	}
	if err := a.repo.Insert(ctx, entry); err != nil {
		a.metrics.RecordActivityFailure()
		a.logger.Warn("activity entry not recorded",
			zap.String("request_id", requestID),
			zap.String("update_type", string(update.Type)),
			zap.Error(err))
	}
}

// newActivityID returns a ULID. Ids minted by one process sort in creation order.
func newActivityID() string {
	return ulid.Make().String()
}

func strPtr(s string) *string {
	return &s
}
