package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentbroker/broker/task"
)

// pollInterval is the out-of-band approval poll cadence, the same tick
// used by the task lifecycle's wait-for-terminal loop.
const pollInterval = 400 * time.Millisecond

// decisionSchemaJSON is the JSON-schema form presented to an in-band
// elicitor: a forced choice plus an optional free-text reason.
const decisionSchemaJSON = `{
	"type": "object",
	"properties": {
		"decision": {"enum": ["approved", "denied"]},
		"reason": {"type": "string"}
	},
	"required": ["decision"]
}`

// ElicitPrompt is what the gate hands an Elicitor for one pending call.
type ElicitPrompt struct {
	TaskID   string
	CallID   string
	ToolPath string
	Input    map[string]any
}

// ElicitResponse is the human decision surfaced back through an Elicitor.
// Action mirrors the MCP elicitation result action: "accept", "decline",
// or "cancel". Decision/Reason are only meaningful when Action == accept.
type ElicitResponse struct {
	Action   string
	Decision string
	Reason   string
}

// Elicitor presents an approval decision in-band (e.g. through the
// transport's MCP elicitation capability) and returns the human's answer.
// A nil result or non-nil error both count as "elicitation unavailable"
// and latch the gate to out-of-band for the rest of the task.
type Elicitor interface {
	Elicit(ctx context.Context, prompt ElicitPrompt) (*ElicitResponse, error)
}

// Gate implements the approval workflow: an in-band elicitation attempt
// that falls back, one-way, to out-of-band polling once it fails.
type Gate struct {
	store    task.Store
	elicitor Elicitor
	schema   *jsonschema.Schema

	disabled atomic.Bool
	seen     sync.Map // approvalID -> *task.Approval

	newID func() string
	clock func() time.Time
}

// NewGate constructs a Gate. elicitor may be nil, in which case every
// call goes straight to out-of-band polling.
func NewGate(store task.Store, elicitor Elicitor) (*Gate, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(decisionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("dispatcher: compile approval decision schema: %w", err)
	}
	schema, err := compiler.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("dispatcher: compile approval decision schema: %w", err)
	}
	return &Gate{
		store:    store,
		elicitor: elicitor,
		schema:   schema,
		newID:    uuid.NewString,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// RequestApproval enqueues an approval for one gated call and blocks
// until it resolves, trying in-band elicitation first (unless already
// latched off) and falling back to out-of-band polling.
func (g *Gate) RequestApproval(ctx context.Context, workspaceID, taskID, callID, toolPath string, input map[string]any) (task.ApprovalStatus, string, error) {
	approvalID := g.newID()
	a, err := task.NewApproval(approvalID, workspaceID, taskID, callID, toolPath, input, g.clock())
	if err != nil {
		return "", "", err
	}
	if err := g.store.CreateApproval(ctx, a); err != nil {
		return "", "", err
	}

	if g.elicitor != nil && !g.disabled.Load() {
		resp, elicitErr := g.elicitor.Elicit(ctx, ElicitPrompt{TaskID: taskID, CallID: callID, ToolPath: toolPath, Input: input})
		if elicitErr != nil || resp == nil {
			g.disabled.Store(true)
			reason := "in-band elicitation unavailable, falling back to out-of-band approval"
			if elicitErr != nil {
				reason = fmt.Sprintf("%s: %v", reason, elicitErr)
			}
			_ = g.store.AppendEvent(ctx, workspaceID, task.WarningEvent(g.newID(), taskID, reason, g.clock()))
		} else {
			if err := g.validateDecision(resp); err != nil {
				return "", "", err
			}
			resolved, err := g.store.ResolveApproval(ctx, workspaceID, approvalID, elicitDecision(resp), "", resp.Reason)
			if err != nil {
				return "", "", err
			}
			return resolved.Status, resolved.Reason, nil
		}
	}

	resolved, err := g.waitOutOfBand(ctx, workspaceID, taskID, approvalID)
	if err != nil {
		return "", "", err
	}
	return resolved.Status, resolved.Reason, nil
}

func (g *Gate) validateDecision(resp *ElicitResponse) error {
	if resp.Action != "accept" {
		return nil
	}
	doc := map[string]any{"decision": resp.Decision}
	if resp.Reason != "" {
		doc["reason"] = resp.Reason
	}
	if err := g.schema.Validate(doc); err != nil {
		return fmt.Errorf("dispatcher: elicited decision failed validation: %w", err)
	}
	return nil
}

func elicitDecision(resp *ElicitResponse) task.ApprovalStatus {
	if resp.Action == "decline" || resp.Action == "cancel" {
		return task.ApprovalDenied
	}
	if resp.Decision == string(task.ApprovalDenied) {
		return task.ApprovalDenied
	}
	return task.ApprovalApproved
}

// waitOutOfBand polls pending approvals for taskID every pollInterval
// until approvalID is no longer pending, caching resolved approvals it
// has already observed so a repeat poll never re-resolves the same one.
func (g *Gate) waitOutOfBand(ctx context.Context, workspaceID, taskID, approvalID string) (*task.Approval, error) {
	if v, ok := g.seen.Load(approvalID); ok {
		return v.(*task.Approval), nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			pending, err := g.store.ListPendingApprovals(ctx, workspaceID, taskID)
			if err != nil {
				return nil, err
			}
			stillPending := false
			for _, a := range pending {
				if a.ApprovalID == approvalID {
					stillPending = true
					break
				}
			}
			if stillPending {
				continue
			}
			a, err := g.store.GetApproval(ctx, workspaceID, approvalID)
			if err != nil {
				return nil, err
			}
			if a.Status == task.ApprovalPending {
				continue
			}
			g.seen.Store(approvalID, a)
			return a, nil
		}
	}
}
