package eventing

import (
	"context"
	"errors"
	"sync"
)

// Handler handles a published event.
type Handler func(ctx context.Context, event Event) error

// Bus delivers events to the handlers subscribed to their topic.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(topic string, handler Handler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// ErrMissingTopic is returned when an event reports an empty topic.
var ErrMissingTopic = errors.New("eventing: event without topic")

// InMemoryBus is an in-process topic bus. Handlers run synchronously on the publisher's goroutine.
type InMemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]Handler
	all    []Handler
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		topics: make(map[string][]Handler),
	}
}

// Publish dispatches event to the handlers of its topic, then to catch-all handlers.
// Every handler runs; the first error is returned.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}
	topic := event.Topic()
	if topic == "" {
		return ErrMissingTopic
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[topic])+len(b.all))
	handlers = append(handlers, b.topics[topic]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for one topic.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) {
	if topic == "" || handler == nil {
		return
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], handler)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every topic, including ones added later.
func (b *InMemoryBus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	b.all = append(b.all, handler)
	b.mu.Unlock()
}

// SubscribeInvalidations registers handler on every dashboard invalidation topic.
func SubscribeInvalidations(bus Bus, handler Handler) {
	if bus == nil || handler == nil {
		return
	}
	for _, topic := range Topics() {
		bus.Subscribe(topic, handler)
	}
}
