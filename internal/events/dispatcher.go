package events

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when an async dispatcher cannot take more events.
var ErrQueueFull = errors.New("event queue full")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// ErrorHook observes handler failures.
type ErrorHook func(event Event, err error)

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	logger    *zap.Logger
	onError   ErrorHook
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers on the publishing goroutine.
func NewInMemoryDispatcher(logger *zap.Logger, onError ErrorHook) Dispatcher {
	return newInMemoryDispatcher(logger, onError)
}

func newInMemoryDispatcher(logger *zap.Logger, onError ErrorHook) *inMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		logger:    logger,
		onError:   onError,
	}
}

// Publish synchronously invokes handlers for the given event. Handler errors
// are logged and never returned.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("request_id", event.RequestID),
				zap.Error(err))
			if d.onError != nil {
				d.onError(event, err)
			}
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// AsyncDispatcher queues events and delivers them on a fixed set of workers,
// so publishers never wait on handlers.
type AsyncDispatcher struct {
	inner   *inMemoryDispatcher
	queue   chan Event
	workers int
	logger  *zap.Logger
	onDrop  func(Event)

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        *conc.WaitGroup
}

// NewAsyncDispatcher builds a dispatcher with the given queue size and worker count.
func NewAsyncDispatcher(logger *zap.Logger, queueSize, workers int, onError ErrorHook, onDrop func(Event)) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &AsyncDispatcher{
		inner:   newInMemoryDispatcher(logger, onError),
		queue:   make(chan Event, queueSize),
		workers: workers,
		logger:  logger,
		onDrop:  onDrop,
		wg:      conc.NewWaitGroup(),
	}
}

// Start launches the workers. Handlers run with ctx, not the publisher's context.
func (d *AsyncDispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Go(func() {
				for event := range d.queue {
					_ = d.inner.Publish(ctx, event)
				}
			})
		}
	})
}

// Publish enqueues the event or drops it when the queue is full.
func (d *AsyncDispatcher) Publish(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("dispatcher closed")
	}
	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("dropping event, queue full",
			zap.String("event_type", string(event.Type)),
			zap.String("request_id", event.RequestID))
		if d.onDrop != nil {
			d.onDrop(event)
		}
		return ErrQueueFull
	}
}

// Subscribe registers a handler for the given event type.
func (d *AsyncDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.inner.Subscribe(eventType, handler)
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *AsyncDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.Start(context.Background())
		d.wg.Wait()
	})
}
