package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/task"
)

func TestBus_PublishFanOut(t *testing.T) {
	t.Parallel()
	bus := New()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(_ context.Context, _ task.Event) error {
		count++
		return nil
	})
	_, err := bus.Register("ws-1", sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ws-1", task.StatusEvent("e1", "t1", task.StatusRunning, time.Now())))
	require.NoError(t, bus.Publish(ctx, "ws-1", task.StatusEvent("e2", "t1", task.StatusCompleted, time.Now())))
	require.Equal(t, 2, count)
}

func TestBus_PublishOnlyReachesMatchingWorkspace(t *testing.T) {
	t.Parallel()
	bus := New()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(_ context.Context, _ task.Event) error {
		count++
		return nil
	})
	_, err := bus.Register("ws-1", sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ws-2", task.StatusEvent("e1", "t1", task.StatusRunning, time.Now())))
	require.Equal(t, 0, count)
}

func TestBus_RegisterNilSubscriberErrors(t *testing.T) {
	t.Parallel()
	bus := New()
	_, err := bus.Register("ws-1", nil)
	require.Error(t, err)
}

func TestBus_SubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()
	bus := New()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(_ context.Context, _ task.Event) error {
		count++
		return nil
	})
	sub1, err := bus.Register("ws-1", sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ws-1", task.StatusEvent("e1", "t1", task.StatusRunning, time.Now())))
	require.NoError(t, sub1.Close())
	require.NoError(t, sub1.Close()) // idempotent
	require.NoError(t, bus.Publish(ctx, "ws-1", task.StatusEvent("e2", "t1", task.StatusCompleted, time.Now())))
	require.Equal(t, 1, count)
}

func TestBus_PublishStopsAtFirstSubscriberError(t *testing.T) {
	t.Parallel()
	bus := New()
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := bus.Register("ws-1", SubscriberFunc(func(_ context.Context, _ task.Event) error {
		return boom
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, "ws-1", task.StatusEvent("e1", "t1", task.StatusRunning, time.Now()))
	require.ErrorIs(t, err, boom)
}
