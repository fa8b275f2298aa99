// Package events carries flow state-change notifications over an
// explicit-subscription bus. Consumers subscribe and receive an
// unsubscribe handle; there is no global observer registration.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gookitEvent "github.com/gookit/event"

	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/pkg/api"
)

// TypeStateChanged identifies negotiation state transitions.
const TypeStateChanged = "flow.state_changed"

// Event is a notification published on the bus.
type Event interface {
	// Type returns the event type identifier
	Type() string
	// ID returns a unique identifier for this event
	ID() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// StateChanged reports a negotiation state transition for a server.
type StateChanged struct {
	Server api.ServerIdentity
	From   string
	To     string

	id string
	at time.Time
}

// NewStateChanged creates a state-change event.
func NewStateChanged(server api.ServerIdentity, from, to string) *StateChanged {
	return &StateChanged{
		Server: server,
		From:   from,
		To:     to,
		id:     uuid.NewString(),
		at:     time.Now(),
	}
}

func (e *StateChanged) Type() string         { return TypeStateChanged }
func (e *StateChanged) ID() string           { return e.id }
func (e *StateChanged) Timestamp() time.Time { return e.at }

// Handler processes events of a subscribed type.
type Handler func(ctx context.Context, event Event) error

// UnsubscribeFunc removes a subscription when called.
type UnsubscribeFunc func()

// Bus publishes events to subscribed handlers, backed by gookit/event.
type Bus struct {
	mu      sync.Mutex
	manager *gookitEvent.Manager
	logger  *logger.Logger
	closed  bool
}

// NewBus creates a new event bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDevelopment("events")
	}

	return &Bus{
		manager: gookitEvent.NewManager("provision"),
		logger:  log,
	}
}

// Publish delivers an event to every handler subscribed to its type.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.Unlock()

	b.logger.Debug("publishing event", "type", ev.Type(), "id", ev.ID())

	err, _ := b.manager.Fire(ev.Type(), gookitEvent.M{"ctx": ctx, "payload": ev})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for events of the given type and
// returns the function that removes the subscription.
func (b *Bus) Subscribe(eventType string, handler Handler) (UnsubscribeFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	// gookit listeners cannot be removed by value, so an unsubscribed
	// wrapper simply stops forwarding.
	var active atomic.Bool
	active.Store(true)

	listener := gookitEvent.ListenerFunc(func(ge gookitEvent.Event) error {
		if !active.Load() {
			return nil
		}
		payload, ok := ge.Get("payload").(Event)
		if !ok {
			return fmt.Errorf("event %s carried no payload", ge.Name())
		}
		ctx, ok := ge.Get("ctx").(context.Context)
		if !ok {
			ctx = context.Background()
		}
		return handler(ctx, payload)
	})
	b.manager.On(eventType, listener, gookitEvent.Normal)

	return func() {
		active.Store(false)
	}, nil
}

// Close shuts the bus down; further publishes and subscribes fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.manager.Clear()
	return nil
}
