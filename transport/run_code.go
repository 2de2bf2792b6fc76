package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentbroker/broker/dispatcher"
	"github.com/agentbroker/broker/task"
	"github.com/agentbroker/broker/tool"
	"github.com/agentbroker/broker/typecheck"
)

// handleToolsCall dispatches a "tools/call" request. run_code is the
// only tool the broker exposes by default; any other name is a
// method-not-found error.
func (s *Server) handleToolsCall(ctx context.Context, rc *requestContext, req rpcRequest) rpcResponse {
	var params toolCallParams
	if err := remarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params")
	}
	if params.Name != "run_code" {
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown tool %q", params.Name))
	}

	var in runCodeInput
	if err := remarshal(params.Arguments, &in); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid run_code arguments")
	}
	if in.Code == "" {
		return errorResponse(req.ID, codeInvalidParams, "code is required")
	}
	if s.Config.OAuth.Enabled {
		// A workspace-bound call ignores the unbound-only input fields.
		in.ClientID, in.SessionID, in.WaitForResult, in.ResultTimeoutMs = "", "", nil, 0
	}
	if in.ResultTimeoutMs != 0 && (in.ResultTimeoutMs < 100 || in.ResultTimeoutMs > 900_000) {
		return errorResponse(req.ID, codeInvalidParams, "resultTimeoutMs out of bounds [100, 900000]")
	}

	workspaceID, actorID, clientID := rc.workspaceID, rc.actorID, rc.clientID
	// The unbound input schema (no OAuth workspace binding) lets a
	// stateless caller supply clientId directly; a workspace-bound
	// session's own clientId always wins.
	if !s.Config.OAuth.Enabled && in.ClientID != "" {
		clientID = in.ClientID
	}

	cfgs, err := s.Sources.SourcesFor(ctx, workspaceID)
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}

	view, err := s.Registry.ListToolsForTypecheck(ctx, workspaceID, cfgs, nil)
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}

	bundle := typecheck.Build(view.Tools)
	checked, err := s.Checker.Typecheck(ctx, in.Code, bundle)
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}
	if !checked.OK {
		// On a type error, reply isError:true with the diagnostic text; no
		// task is created.
		return resultResponse(req.ID, runCodeOutput{
			Content:           []toolResultContent{{Type: "text", Text: strings.Join(checked.Errors, "\n")}},
			StructuredContent: map[string]any{"typecheckErrors": checked.Errors},
			IsError:           true,
		})
	}

	taskID := s.newID()
	var elicitor dispatcher.Elicitor
	if rc.session != nil {
		elicitor = rc.session
	}
	gate, err := dispatcher.NewGate(s.Store, elicitor)
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}
	invoker := dispatcher.New(taskID, workspaceID, actorID, clientID, view.Tools, s.Policies, gate, s.Store, tool.CredentialContext{})

	timeoutMs := in.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = s.Config.Server.DefaultTimeoutMs
	}
	created, err := s.Lifecycle.CreateAndRun(ctx, task.CreateParams{
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		ClientID:    clientID,
		Code:        in.Code,
		TimeoutMs:   timeoutMs,
		RuntimeID:   in.RuntimeID,
		Metadata:    in.Metadata,
		Tools:       invoker,
	})
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}

	if !in.waitForResult() {
		return resultResponse(req.ID, runCodeOutput{
			Content:           []toolResultContent{{Type: "text", Text: fmt.Sprintf("task %s queued", created.TaskID)}},
			StructuredContent: taskSummary(created),
		})
	}

	waitTimeout := s.Config.ResultWaitTimeout(created.TimeoutMs)
	if in.ResultTimeoutMs > 0 {
		waitTimeout = time.Duration(in.ResultTimeoutMs) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	final, err := s.Lifecycle.WaitForTerminal(waitCtx, workspaceID, taskID)
	if err != nil {
		// resultTimeoutMs governs how long the caller waits, not the
		// task itself: on expiry, read and return whatever the store
		// currently holds, terminal or not.
		cur, getErr := s.Store.GetTask(ctx, workspaceID, taskID)
		if getErr != nil {
			return errorResponse(req.ID, codeInternalError, err.Error())
		}
		final = cur
	}
	return resultResponse(req.ID, buildOutput(final))
}

func buildOutput(t *task.Task) runCodeOutput {
	text := t.Stdout
	if t.Error != "" {
		if text != "" {
			text += "\n"
		}
		text += t.Error
	}
	return runCodeOutput{
		Content:           []toolResultContent{{Type: "text", Text: text}},
		StructuredContent: taskSummary(t),
		IsError:           t.Status.IsTerminal() && t.Status != task.StatusCompleted,
	}
}

func taskSummary(t *task.Task) map[string]any {
	return map[string]any{
		"taskId":   t.TaskID,
		"status":   string(t.Status),
		"exitCode": t.ExitCode,
		"stdout":   t.Stdout,
		"stderr":   t.Stderr,
		"error":    t.Error,
	}
}

// remarshal round-trips v (already decoded into an any by the outer
// JSON-RPC envelope) through JSON into out, since rpcRequest.Params
// arrives untyped.
func remarshal(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
