package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDispatcherReportsHandlerErrors(t *testing.T) {
	var failed []EventType
	d := NewInMemoryDispatcher(nil, func(event Event, err error) {
		failed = append(failed, event.Type)
	})

	var delivered int
	d.Subscribe(EventRequestAssigned, func(context.Context, Event) error {
		delivered++
		return nil
	})
	d.Subscribe(EventRequestAssigned, func(context.Context, Event) error {
		return errors.New("smtp down")
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestAssigned, RequestID: "r1"}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestAccepted, RequestID: "r1"}))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []EventType{EventRequestAssigned}, failed)
}

func TestAsyncDispatcherDeliversQueuedEvents(t *testing.T) {
	d := NewAsyncDispatcher(nil, 16, 3, nil, nil)

	var mu sync.Mutex
	seen := map[string]bool{}
	d.Subscribe(EventRequestEscalated, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.RequestID] = true
		return nil
	})
	d.Start(context.Background())

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestEscalated, RequestID: id}))
	}
	d.Close()

	assert.Len(t, seen, 4)
	assert.Error(t, d.Publish(context.Background(), Event{Type: EventRequestEscalated}))
}

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	d := NewAsyncDispatcher(nil, 1, 1, nil, func(Event) { dropped.Add(1) })

	var handled atomic.Int32
	d.Subscribe(EventRequestCompleted, func(context.Context, Event) error {
		handled.Add(1)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestCompleted, RequestID: "r1"}))
	err := d.Publish(context.Background(), Event{Type: EventRequestCompleted, RequestID: "r2"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(1), dropped.Load())

	d.Close()
	assert.Equal(t, int32(1), handled.Load())
}
