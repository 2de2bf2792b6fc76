// Package eventbus implements a fan-out publish/subscribe bus for live task
// events, separate from the durable event journal a task.Store keeps. A
// transport session subscribes for the lifetime of one streaming request;
// the journal remains the source of truth for replay after a reconnect.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/agentbroker/broker/task"
)

type (
	// Bus publishes task events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. Subscribers are held
	// in a map, so the order in which a workspace's subscribers are
	// reached is not defined, and neither is which of them an aborted
	// delivery has already reached.
	Bus interface {
		// Publish delivers event to every subscriber currently registered
		// for workspaceID, in no defined order. Iteration stops at the
		// first subscriber error; subscribers not yet reached do not
		// receive the event.
		Publish(ctx context.Context, workspaceID string, event task.Event) error

		// Register adds a subscriber scoped to one workspace and returns a
		// Subscription that can be closed to unregister. Register returns
		// an error if sub is nil.
		Register(workspaceID string, sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published task events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event task.Event) error
	}

	// SubscriberFunc adapts an ordinary function to a Subscriber.
	SubscriberFunc func(ctx context.Context, event task.Event) error

	// Subscription represents an active registration on a Bus. Close is
	// idempotent and safe to call multiple times.
	Subscription interface {
		Close() error
	}

	busImpl struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus         *busImpl
		workspaceID string
		once        sync.Once
	}
)

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event task.Event) error {
	return fn(ctx, event)
}

// New constructs a new in-memory event bus.
func New() Bus {
	return &busImpl{subscribers: make(map[*subscription]Subscriber)}
}

// Publish delivers event to every subscriber registered for event.WorkspaceID.
// The snapshot of subscribers is captured before iteration begins, so
// registrations or unregistrations during Publish never affect the current
// delivery. If no subscriber is registered for the workspace, Publish
// returns nil immediately without allocating.
func (b *busImpl) Publish(ctx context.Context, workspaceID string, event task.Event) error {
	b.mu.RLock()
	var subs []Subscriber
	for s, sub := range b.subscribers {
		if s.workspaceID == workspaceID {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a subscriber scoped to workspaceID and returns a
// Subscription handle that can be closed to unregister.
func (b *busImpl) Register(workspaceID string, sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("eventbus: subscriber is required")
	}
	s := &subscription{bus: b, workspaceID: workspaceID}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
