package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/events"
)

type ctxKey struct{}

func TestNotificationWorkerDrainsAfterCancel(t *testing.T) {
	dispatcher := events.NewAsyncDispatcher(nil, 8, 2, nil, nil)

	var mu sync.Mutex
	var errs []error
	var values []any
	dispatcher.Subscribe(events.EventEscalationExhausted, func(ctx context.Context, _ events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, ctx.Err())
		values = append(values, ctx.Value(ctxKey{}))
		return nil
	})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "org-1"))
	stop := StartNotificationWorker(ctx, dispatcher, nil)
	cancel()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventEscalationExhausted, RequestID: id}))
	}
	stop()

	require.Len(t, errs, 3)
	for i := range errs {
		assert.NoError(t, errs[i])
		assert.Equal(t, "org-1", values[i])
	}
}

func TestNotificationWorkerNilDispatcher(t *testing.T) {
	stop := StartNotificationWorker(context.Background(), nil, nil)
	assert.NotPanics(t, stop)
}
