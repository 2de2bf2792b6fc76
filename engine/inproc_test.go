package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInProcess_ExecuteActivityAndComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := NewInProcess(nil, nil, nil)

	require.NoError(t, eng.RegisterActivity(ctx, ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, WorkflowDefinition{
		Name: "doubler",
		Handler: func(wf WorkflowContext, input any) (any, error) {
			var out int
			if err := wf.ExecuteActivity(wf.Context(), ActivityRequest{Name: "double", Input: input}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}))

	h, err := eng.StartWorkflow(ctx, WorkflowStartRequest{ID: "run-1", Workflow: "doubler", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, 42, result)
}

func TestInProcess_ActivityErrorPropagatesToWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := NewInProcess(nil, nil, nil)
	boom := errors.New("boom")

	require.NoError(t, eng.RegisterActivity(ctx, ActivityDefinition{
		Name:    "fail",
		Handler: func(context.Context, any) (any, error) { return nil, boom },
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, WorkflowDefinition{
		Name: "wf",
		Handler: func(wf WorkflowContext, input any) (any, error) {
			var ignored any
			return nil, wf.ExecuteActivity(wf.Context(), ActivityRequest{Name: "fail"}, &ignored)
		},
	}))

	h, err := eng.StartWorkflow(ctx, WorkflowStartRequest{ID: "run-2", Workflow: "wf"})
	require.NoError(t, err)

	var ignored any
	err = h.Wait(ctx, &ignored)
	require.ErrorIs(t, err, boom)
}

func TestInProcess_SignalDeliveredToWaitingWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := NewInProcess(nil, nil, nil)

	started := make(chan struct{})
	require.NoError(t, eng.RegisterWorkflow(ctx, WorkflowDefinition{
		Name: "waits-for-approval",
		Handler: func(wf WorkflowContext, _ any) (any, error) {
			close(started)
			var decision string
			if err := wf.SignalChannel("approval").Receive(wf.Context(), &decision); err != nil {
				return nil, err
			}
			return decision, nil
		},
	}))

	h, err := eng.StartWorkflow(ctx, WorkflowStartRequest{ID: "run-3", Workflow: "waits-for-approval"})
	require.NoError(t, err)

	<-started
	require.NoError(t, h.Signal(ctx, "approval", "approved"))

	var result string
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, "approved", result)
}

func TestInProcess_StartWorkflowRejectsUnknownName(t *testing.T) {
	t.Parallel()
	eng := NewInProcess(nil, nil, nil)
	_, err := eng.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "x", Workflow: "nope"})
	require.Error(t, err)
}

func TestInProcess_DuplicateRegistrationRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := NewInProcess(nil, nil, nil)
	def := WorkflowDefinition{Name: "dup", Handler: func(WorkflowContext, any) (any, error) { return nil, nil }}
	require.NoError(t, eng.RegisterWorkflow(ctx, def))
	require.Error(t, eng.RegisterWorkflow(ctx, def))
}
