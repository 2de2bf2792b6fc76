package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentbroker/broker/engine"
)

const (
	taskWorkflowName    = "run_task"
	sandboxActivityName = "execute_sandbox"

	// pollInterval is the fixed wait-for-terminal tick and the approval
	// gate's out-of-band poll cadence.
	pollInterval = 400 * time.Millisecond
)

// Lifecycle drives the task state machine on top of a pluggable
// engine.Engine: every CreateAndRun call starts one
// workflow execution, every sandbox invocation inside it runs as one
// activity, and WaitForTerminal polls the Store for the terminal status
// the workflow's completion eventually writes.
type Lifecycle struct {
	eng     engine.Engine
	store   Store
	sandbox Sandbox

	newID func() string
	clock func() time.Time

	// invokers maps taskID -> ToolInvoker for the duration of a run. The
	// sandbox activity looks its invoker up here rather than receiving it
	// as activity input, since a ToolInvoker is not serializable across
	// the engine/activity boundary the way the Temporal adapter needs.
	invokers sync.Map
}

// New constructs a Lifecycle and registers its workflow/activity with eng.
// Call once per engine instance, before any CreateAndRun.
func New(eng engine.Engine, store Store, sandbox Sandbox) (*Lifecycle, error) {
	l := &Lifecycle{
		eng:     eng,
		store:   store,
		sandbox: sandbox,
		newID:   uuid.NewString,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	ctx := context.Background()
	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    sandboxActivityName,
		Handler: l.runSandboxActivity,
	}); err != nil {
		return nil, fmt.Errorf("task: register sandbox activity: %w", err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    taskWorkflowName,
		Handler: l.taskWorkflow,
	}); err != nil {
		return nil, fmt.Errorf("task: register task workflow: %w", err)
	}
	return l, nil
}

// CreateParams describes a new task submission.
type CreateParams struct {
	WorkspaceID string
	ActorID     string
	ClientID    string
	Code        string
	TimeoutMs   int
	RuntimeID   string
	Metadata    map[string]any

	// TaskID, when set, is used as the task's identity instead of one
	// generated internally. A caller that needs the task ID before
	// CreateAndRun returns — to bind a run-scoped ToolInvoker's fencing
	// identity to it, for instance — generates it up front and passes it
	// here.
	TaskID string

	// Tools is the dispatcher-backed invoker this run's sandbox calls for
	// every tools.*(...) invocation the code makes.
	Tools ToolInvoker
}

type workflowInput struct {
	TaskID      string
	WorkspaceID string
	Code        string
	TimeoutMs   int
}

type workflowOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CreateAndRun creates a queued task, immediately starts its execution on
// the engine, and returns the task record without waiting for completion.
// Callers use WaitForTerminal to observe completion.
func (l *Lifecycle) CreateAndRun(ctx context.Context, p CreateParams) (*Task, error) {
	if p.Tools == nil {
		return nil, fmt.Errorf("task: a tool invoker is required")
	}
	taskID := p.TaskID
	if taskID == "" {
		taskID = l.newID()
	}
	t, err := NewTask(taskID, p.WorkspaceID, p.Code, p.TimeoutMs, p.RuntimeID, p.ActorID, p.ClientID, p.Metadata, l.clock())
	if err != nil {
		return nil, err
	}
	if err := l.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := l.store.AppendEvent(ctx, p.WorkspaceID, StatusEvent(l.newID(), taskID, StatusQueued, l.clock())); err != nil {
		return nil, fmt.Errorf("task: append queued event: %w", err)
	}

	l.invokers.Store(taskID, p.Tools)

	running, err := l.store.UpdateTask(ctx, p.WorkspaceID, taskID, func(t *Task) error {
		return t.transitionTo(StatusRunning, l.clock())
	})
	if err != nil {
		l.invokers.Delete(taskID)
		return nil, err
	}
	if err := l.store.AppendEvent(ctx, p.WorkspaceID, StatusEvent(l.newID(), taskID, StatusRunning, l.clock())); err != nil {
		return nil, fmt.Errorf("task: append running event: %w", err)
	}

	handle, err := l.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       taskID,
		Workflow: taskWorkflowName,
		Input: workflowInput{
			TaskID:      taskID,
			WorkspaceID: p.WorkspaceID,
			Code:        p.Code,
			TimeoutMs:   running.TimeoutMs,
		},
	})
	if err != nil {
		l.invokers.Delete(taskID)
		return nil, fmt.Errorf("task: start workflow: %w", err)
	}

	go l.finalize(context.Background(), p.WorkspaceID, taskID, handle)

	return running, nil
}

// finalize waits for the workflow to reach a result and writes the
// corresponding terminal transition. It runs detached from the request
// that called CreateAndRun, using a background context so a client
// disconnect never truncates an in-flight task.
func (l *Lifecycle) finalize(ctx context.Context, workspaceID, taskID string, handle engine.WorkflowHandle) {
	var out workflowOutput
	err := handle.Wait(ctx, &out)

	status, taskErr, exitCode := classifyOutcome(err, out)

	_, updateErr := l.store.UpdateTask(ctx, workspaceID, taskID, func(t *Task) error {
		if transErr := t.transitionTo(status, l.clock()); transErr != nil {
			return transErr
		}
		t.Error = taskErr
		t.Stdout = out.Stdout
		t.Stderr = out.Stderr
		if exitCode != nil {
			t.ExitCode = exitCode
		}
		return nil
	})
	l.invokers.Delete(taskID)
	if updateErr != nil {
		return
	}
	_ = l.store.AppendEvent(ctx, workspaceID, StatusEvent(l.newID(), taskID, status, l.clock()))
}

// classifyOutcome maps a workflow error (or its absence) to the terminal
// status and task.Error text, applying the timeout rule and the
// approval-denial sentinel.
func classifyOutcome(err error, out workflowOutput) (Status, string, *int) {
	if err == nil {
		exitCode := out.ExitCode
		return StatusCompleted, "", &exitCode
	}
	if err == context.DeadlineExceeded {
		return StatusTimedOut, "execution timed out", nil
	}
	if msg, ok := strings.CutPrefix(err.Error(), ApprovalDeniedPrefix); ok {
		return StatusDenied, msg, nil
	}
	return StatusFailed, err.Error(), nil
}

func (l *Lifecycle) taskWorkflow(wf engine.WorkflowContext, input any) (any, error) {
	in, ok := input.(workflowInput)
	if !ok {
		return nil, fmt.Errorf("task: unexpected workflow input %T", input)
	}

	var out workflowOutput
	err := wf.ExecuteActivity(wf.Context(), engine.ActivityRequest{
		Name:    sandboxActivityName,
		Input:   in,
		Timeout: time.Duration(in.TimeoutMs) * time.Millisecond,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lifecycle) runSandboxActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(workflowInput)
	if !ok {
		return nil, fmt.Errorf("task: unexpected activity input %T", input)
	}
	invokerAny, ok := l.invokers.Load(in.TaskID)
	if !ok {
		return nil, fmt.Errorf("task: no tool invoker registered for task %s", in.TaskID)
	}
	invoker := invokerAny.(ToolInvoker)

	res, err := l.sandbox.Run(ctx, SandboxRequest{
		RunID:     in.TaskID,
		Code:      in.Code,
		Tools:     invoker,
		TimeoutMs: in.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	return workflowOutput{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// WaitForTerminal polls the Store every pollInterval until the task
// reaches a terminal status or ctx is done. A re-entrancy guard ensures a
// slow store round trip never causes two checks to race each other on the
// same tick.
func (l *Lifecycle) WaitForTerminal(ctx context.Context, workspaceID, taskID string) (*Task, error) {
	t, err := l.store.GetTask(ctx, workspaceID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return t, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var checking atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if !checking.CompareAndSwap(false, true) {
				continue
			}
			t, err := l.store.GetTask(ctx, workspaceID, taskID)
			checking.Store(false)
			if err != nil {
				return nil, err
			}
			if t.Status.IsTerminal() {
				return t, nil
			}
		}
	}
}
