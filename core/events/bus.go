// Package events provides a publish/subscribe bus for record lifecycle
// events. Connections publish "<Kind>.saved", "<Kind>.deleted",
// "<Kind>.migrated" and "<Kind>.failed".
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle actions.
const (
	Saved    = "saved"
	Deleted  = "deleted"
	Migrated = "migrated"
	Failed   = "failed"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "User.saved").
	Name string

	// Kind is the record kind the event is about.
	Kind string

	// Op is the operation that produced the event (e.g., "save", "find").
	Op string

	// ID is the identity of the affected record, if any.
	ID string

	// Data contains the event payload.
	Data map[string]any

	// Err is set on failure events.
	Err error

	// At is when the event was published.
	At time.Time
}

// Name builds an event name from a kind and an action.
func Name(kind, action string) string {
	return kind + "." + action
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event pattern:
//   - "User.saved" - exact match
//   - "User.*" - all events of a kind
//   - "*.failed" - one action across kinds
//   - "*" - all events
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], handler)
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order, exact matches
// first. Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("kind", event.Kind).
		Str("op", event.Op).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(ctx, event)
}

// HasSubscribers checks if any handlers would receive an event.
func (b *Bus) HasSubscribers(name string) bool {
	return len(b.match(name)) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	for _, pattern := range patterns(name) {
		matched = append(matched, b.handlers[pattern]...)
	}
	return matched
}

// patterns lists the subscription patterns matching an event name.
func patterns(name string) []string {
	out := []string{name}
	if kind, action, ok := strings.Cut(name, "."); ok {
		out = append(out, kind+".*", "*."+action)
	}
	return append(out, "*")
}
