// Package engine defines the pluggable durable-execution abstraction the
// task lifecycle runs on top of. It lets the broker target an in-process
// engine for local/dev use or a Temporal-backed engine for durable,
// restart-safe task execution without the task package knowing which.
package engine

import (
	"context"
	"time"

	"github.com/agentbroker/broker/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (in-process, Temporal) can be swapped without touching the task
	// package. A task run is modeled as one workflow execution; the
	// run's sandbox execution is modeled as one activity, and the tool
	// invocations the sandbox makes happen inside that activity.
	Engine interface {
		// RegisterWorkflow registers a workflow definition. Called once
		// during startup before any workflow is started.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition. Called once
		// during startup before any workflow is started.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow launches a new workflow execution and returns a
		// handle for waiting, signaling, or cancelling it. req.ID must be
		// unique for the engine instance (the broker uses the task ID).
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the task-run workflow entry point. It must be
	// deterministic under replay: no direct I/O, no system time, no
	// randomness outside of ExecuteActivity/Now.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must guarantee deterministic replay for engines
	// that support it (Temporal); the in-process engine has no replay
	// concept and can be more literal.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel for a named signal delivered
		// to the running workflow. The task lifecycle does not use
		// signals; approval decisions reach a run through the task store
		// and the approval gate.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current time through the engine's (possibly
		// replay-safe) clock.
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the side-effecting work a workflow cannot do
	// directly. The task lifecycle registers one activity, which runs the
	// task's sandbox (and through it every tool call the code makes).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       any
		Memo        map[string]any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers interact with a running workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery in an engine-agnostic way.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)
