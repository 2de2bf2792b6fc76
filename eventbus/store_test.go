package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/task"
)

func TestPublishingStore_AppendEventPersistsAndPublishes(t *testing.T) {
	t.Parallel()
	inner := task.NewInMemoryStore()
	bus := New()
	received := 0
	_, err := bus.Register("ws-1", SubscriberFunc(func(_ context.Context, _ task.Event) error {
		received++
		return nil
	}))
	require.NoError(t, err)

	store := NewPublishingStore(inner, bus)
	evt := task.StatusEvent("e1", "t1", task.StatusRunning, time.Now())
	require.NoError(t, store.AppendEvent(context.Background(), "ws-1", evt))

	require.Equal(t, 1, received)
	events, err := inner.ListEventsAfter(context.Background(), "ws-1", "t1", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPublishingStore_PublishErrorDoesNotFailAppend(t *testing.T) {
	t.Parallel()
	inner := task.NewInMemoryStore()
	bus := New()
	_, err := bus.Register("ws-1", SubscriberFunc(func(_ context.Context, _ task.Event) error {
		return context.DeadlineExceeded
	}))
	require.NoError(t, err)

	var gotErr error
	store := NewPublishingStore(inner, bus)
	store.OnPublishError = func(_ string, _ task.Event, err error) { gotErr = err }

	evt := task.StatusEvent("e1", "t1", task.StatusRunning, time.Now())
	require.NoError(t, store.AppendEvent(context.Background(), "ws-1", evt))
	require.ErrorIs(t, gotErr, context.DeadlineExceeded)
}
