// Package dispatcher implements the per-run tool dispatch contract a
// sandbox calls for every `tools.*(...)` invocation: run-ID fencing,
// policy evaluation, the approval gate, invocation, and filtered
// output-line streaming.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentbroker/broker/task"
	"github.com/agentbroker/broker/tool"
)

// Dispatcher is bound to exactly one task run. It implements
// task.ToolInvoker; a new Dispatcher is constructed per run so run-ID
// fencing is structural rather than a lookup that could race.
type Dispatcher struct {
	runID       string
	workspaceID string
	actorID     string
	clientID    string

	tools    map[string]*tool.Descriptor
	policies *PolicySet
	gate     *Gate
	store    task.Store
	cred     tool.CredentialContext

	newID func() string
	clock func() time.Time
}

// New constructs a Dispatcher bound to runID. tools is the workspace's
// current descriptor list, indexed here by Path.
func New(runID, workspaceID, actorID, clientID string, tools []*tool.Descriptor, policies *PolicySet, gate *Gate, store task.Store, cred tool.CredentialContext) *Dispatcher {
	byPath := make(map[string]*tool.Descriptor, len(tools))
	for _, t := range tools {
		byPath[t.Path] = t
	}
	return &Dispatcher{
		runID:       runID,
		workspaceID: workspaceID,
		actorID:     actorID,
		clientID:    clientID,
		tools:       byPath,
		policies:    policies,
		gate:        gate,
		store:       store,
		cred:        cred,
		newID:       uuid.NewString,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Invoke implements task.ToolInvoker.
func (d *Dispatcher) Invoke(ctx context.Context, call task.ToolCall) (*task.ToolCallResult, error) {
	if call.RunID != d.runID {
		return &task.ToolCallResult{OK: false, Error: "Run mismatch"}, nil
	}

	desc, ok := d.tools[call.ToolPath]
	if !ok {
		return &task.ToolCallResult{OK: false, Error: fmt.Sprintf("unknown tool %q", call.ToolPath)}, nil
	}

	switch d.policies.Evaluate(d.workspaceID, d.actorID, d.clientID, call.ToolPath, desc) {
	case DecisionDeny:
		// Plain, unprefixed error: a policy deny is a distinct outcome
		// from an approval denial and must surface as a failed task, not
		// a denied one.
		return &task.ToolCallResult{OK: false, Error: fmt.Sprintf("policy denied tool %q", call.ToolPath)}, nil
	case DecisionRequireApproval:
		status, reason, err := d.gate.RequestApproval(ctx, d.workspaceID, d.runID, call.CallID, call.ToolPath, call.Input)
		if err != nil {
			return nil, err
		}
		if status == task.ApprovalDenied {
			msg := reason
			if msg == "" {
				msg = "denied"
			}
			return &task.ToolCallResult{OK: false, Denied: true, Error: task.ApprovalDeniedPrefix + msg}, nil
		}
	}

	value, err := desc.Run(ctx, call.Input, d.cred)
	if err != nil {
		return &task.ToolCallResult{OK: false, Error: err.Error()}, nil
	}
	return &task.ToolCallResult{OK: true, Value: value}, nil
}

// EmitOutputLine appends a stdout/stderr line event for this run,
// dropping the line if runID doesn't match the dispatcher's bound run
// (per the streaming filter, defense in depth against a sandbox that
// mislabels its own output).
func (d *Dispatcher) EmitOutputLine(ctx context.Context, runID, stream, line string) error {
	if runID != d.runID {
		return nil
	}
	return d.store.AppendEvent(ctx, d.workspaceID, task.OutputLineEvent(d.newID(), d.runID, stream, line, d.clock()))
}
