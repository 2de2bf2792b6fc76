package eventbus

import (
	"context"

	"github.com/agentbroker/broker/task"
)

// PublishingStore wraps a task.Store so every appended event is also fanned
// out live on a Bus, in addition to being persisted durably. A bus publish
// failure is logged by the caller's choosing but never aborts the append:
// the durable journal is the source of truth, the bus is a best-effort live
// feed for connected sessions.
type PublishingStore struct {
	task.Store
	bus Bus

	// OnPublishError, if set, is called with any error returned by the
	// bus's Publish. Errors are swallowed otherwise, since a live
	// subscriber problem must never fail the append itself.
	OnPublishError func(workspaceID string, e task.Event, err error)
}

// NewPublishingStore wraps store so AppendEvent also publishes on bus.
func NewPublishingStore(store task.Store, bus Bus) *PublishingStore {
	return &PublishingStore{Store: store, bus: bus}
}

// AppendEvent persists e through the wrapped Store, then publishes it on
// the bus. The append's own error is returned as-is; a publish error never
// masks a successful append.
func (s *PublishingStore) AppendEvent(ctx context.Context, workspaceID string, e task.Event) error {
	if err := s.Store.AppendEvent(ctx, workspaceID, e); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, workspaceID, e); err != nil && s.OnPublishError != nil {
		s.OnPublishError(workspaceID, e, err)
	}
	return nil
}
