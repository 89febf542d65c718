package worker

import (
	"context"

	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/service"
)

// StartNotificationWorker registers notification handlers and starts
// delivering queued events. Call the returned stop func to drain the queue.
// Handlers keep ctx's values but not its cancellation, so events still
// queued at shutdown are delivered during the drain.
func StartNotificationWorker(ctx context.Context, dispatcher *events.AsyncDispatcher, notificationService *service.NotificationService) func() {
	if dispatcher == nil {
		return func() {}
	}
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	dispatcher.Start(context.WithoutCancel(ctx))
	return dispatcher.Close
}
