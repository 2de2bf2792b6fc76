package engine

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentbroker/broker/telemetry"
)

type temporalWorkflowContext struct {
	eng        *TemporalEngine
	ctx        workflow.Context
	workflowID string
	runID      string
}

func newTemporalWorkflowContext(e *TemporalEngine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		eng:        e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
	e.workflowContexts.Store(wfCtx.runID, wfCtx)
	return wfCtx
}

func (w *temporalWorkflowContext) Context() context.Context {
	return WithWorkflowContext(context.Background(), w)
}

func (w *temporalWorkflowContext) WorkflowID() string         { return w.workflowID }
func (w *temporalWorkflowContext) RunID() string              { return w.runID }
func (w *temporalWorkflowContext) Logger() telemetry.Logger   { return w.eng.logger }
func (w *temporalWorkflowContext) Metrics() telemetry.Metrics { return w.eng.metrics }
func (w *temporalWorkflowContext) Tracer() telemetry.Tracer   { return w.eng.tracer }
func (w *temporalWorkflowContext) Now() time.Time             { return workflow.Now(w.ctx) }

func (w *temporalWorkflowContext) ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req ActivityRequest) (Future, error) {
	queue := req.Queue
	if queue == "" {
		queue = w.eng.defaultQueue
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	actx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		TaskQueue:              queue,
		StartToCloseTimeout:    timeout,
		ScheduleToStartTimeout: timeout,
		RetryPolicy:            convertRetryPolicy(req.RetryPolicy),
	})
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

func (w *temporalWorkflowContext) SignalChannel(name string) SignalChannel {
	return &temporalSignalChan{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type temporalFuture struct {
	future workflow.Future
	ctx    workflow.Context
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	if err := f.future.Get(f.ctx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (f *temporalFuture) IsReady() bool { return f.future.IsReady() }

type temporalSignalChan struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *temporalSignalChan) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChan) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

// normalizeTemporalError translates Temporal's cancellation error type to
// context.Canceled so callers can classify cancellation uniformly across
// engine backends without importing the Temporal SDK.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}
