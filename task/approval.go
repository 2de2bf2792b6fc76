package task

import (
	"fmt"
	"time"
)

// ApprovalStatus is the resolution state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval gates one dispatcher invocation pending reviewer sign-off. It
// exists at most once per (TaskID, CallID); CallID is the sandbox-assigned
// identifier for the specific tool call being gated.
type Approval struct {
	ApprovalID  string
	WorkspaceID string
	TaskID      string
	CallID      string
	ToolPath    string
	Input       any

	Status     ApprovalStatus
	ReviewerID string
	Reason     string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// NewApproval constructs a pending approval.
func NewApproval(approvalID, workspaceID, taskID, callID, toolPath string, input any, now time.Time) (*Approval, error) {
	if approvalID == "" || workspaceID == "" || taskID == "" || callID == "" || toolPath == "" {
		return nil, fmt.Errorf("task: approval id, workspace id, task id, call id, and tool path are all required")
	}
	return &Approval{
		ApprovalID:  approvalID,
		WorkspaceID: workspaceID,
		TaskID:      taskID,
		CallID:      callID,
		ToolPath:    toolPath,
		Input:       input,
		Status:      ApprovalPending,
		CreatedAt:   now,
	}, nil
}

// Resolve transitions a pending approval to approved or denied exactly
// once; resolving an already-resolved approval is an error.
func (a *Approval) Resolve(status ApprovalStatus, reviewerID, reason string, now time.Time) error {
	if a.Status != ApprovalPending {
		return fmt.Errorf("task: approval %s already resolved as %s", a.ApprovalID, a.Status)
	}
	if status != ApprovalApproved && status != ApprovalDenied {
		return fmt.Errorf("task: invalid approval resolution %q", status)
	}
	a.Status = status
	a.ReviewerID = reviewerID
	a.Reason = reason
	a.ResolvedAt = &now
	return nil
}
