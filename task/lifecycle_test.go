package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/engine"
)

type fakeSandbox struct {
	run func(ctx context.Context, req SandboxRequest) (*SandboxResult, error)
}

func (f fakeSandbox) Run(ctx context.Context, req SandboxRequest) (*SandboxResult, error) {
	return f.run(ctx, req)
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(context.Context, ToolCall) (*ToolCallResult, error) {
	return nil, errors.New("fakeInvoker: not called by this test")
}

func TestLifecycle_CreateAndRunCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewInMemoryStore()
	sandbox := fakeSandbox{run: func(context.Context, SandboxRequest) (*SandboxResult, error) {
		return &SandboxResult{ExitCode: 0, Stdout: "hi"}, nil
	}}
	lc, err := New(engine.NewInProcess(nil, nil, nil), store, sandbox)
	require.NoError(t, err)

	created, err := lc.CreateAndRun(ctx, CreateParams{
		WorkspaceID: "ws-1",
		Code:        "1 + 1",
		Tools:       fakeInvoker{},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, created.Status)
	require.NotNil(t, created.StartedAt)
	require.Nil(t, created.CompletedAt)

	final, err := lc.WaitForTerminal(ctx, "ws-1", created.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, 0, *final.ExitCode)
	require.Equal(t, "hi", final.Stdout)

	events, err := store.ListEventsAfter(ctx, "ws-1", created.TaskID, "")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, string(StatusQueued), events[0].Payload["status"])
	require.Equal(t, string(StatusRunning), events[1].Payload["status"])
	require.Equal(t, string(StatusCompleted), events[2].Payload["status"])
	require.True(t, events[2].IsTerminal())
}

func TestLifecycle_SandboxErrorMarksFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewInMemoryStore()
	boom := errors.New("boom")
	sandbox := fakeSandbox{run: func(context.Context, SandboxRequest) (*SandboxResult, error) {
		return nil, boom
	}}
	lc, err := New(engine.NewInProcess(nil, nil, nil), store, sandbox)
	require.NoError(t, err)

	created, err := lc.CreateAndRun(ctx, CreateParams{
		WorkspaceID: "ws-2",
		Code:        "throw new Error()",
		Tools:       fakeInvoker{},
	})
	require.NoError(t, err)

	final, err := lc.WaitForTerminal(ctx, "ws-2", created.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, "boom", final.Error)
}

func TestLifecycle_TimeoutMarksTimedOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewInMemoryStore()
	sandbox := fakeSandbox{run: func(ctx context.Context, req SandboxRequest) (*SandboxResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &SandboxResult{}, nil
		}
	}}
	lc, err := New(engine.NewInProcess(nil, nil, nil), store, sandbox)
	require.NoError(t, err)

	created, err := lc.CreateAndRun(ctx, CreateParams{
		WorkspaceID: "ws-3",
		Code:        "while (true) {}",
		TimeoutMs:   MinTimeoutMs,
		Tools:       fakeInvoker{},
	})
	require.NoError(t, err)

	final, err := lc.WaitForTerminal(ctx, "ws-3", created.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, final.Status)
}

func TestLifecycle_CreateAndRunRequiresToolInvoker(t *testing.T) {
	t.Parallel()
	store := NewInMemoryStore()
	sandbox := fakeSandbox{run: func(context.Context, SandboxRequest) (*SandboxResult, error) {
		return &SandboxResult{}, nil
	}}
	lc, err := New(engine.NewInProcess(nil, nil, nil), store, sandbox)
	require.NoError(t, err)

	_, err = lc.CreateAndRun(context.Background(), CreateParams{WorkspaceID: "ws-4", Code: "1"})
	require.Error(t, err)
}

func TestLifecycle_WaitForTerminalReturnsImmediatelyIfAlreadyTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()
	tk, err := NewTask("t-1", "ws-5", "1", 0, "", "", "", nil, now)
	require.NoError(t, err)
	require.NoError(t, store.CreateTask(ctx, tk))
	_, err = store.UpdateTask(ctx, "ws-5", "t-1", func(t *Task) error {
		return t.transitionTo(StatusRunning, now)
	})
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, "ws-5", "t-1", func(t *Task) error {
		return t.transitionTo(StatusCompleted, now)
	})
	require.NoError(t, err)

	sandbox := fakeSandbox{run: func(context.Context, SandboxRequest) (*SandboxResult, error) {
		return &SandboxResult{}, nil
	}}
	lc, err := New(engine.NewInProcess(nil, nil, nil), store, sandbox)
	require.NoError(t, err)

	final, err := lc.WaitForTerminal(ctx, "ws-5", "t-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
}
