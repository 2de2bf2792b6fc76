package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/tool"
)

func TestPolicySet_HighestPriorityWins(t *testing.T) {
	t.Parallel()
	ps, err := NewPolicySet([]Rule{
		{WorkspaceID: "ws", ToolPathPattern: "stripe.*", Priority: 1, Decision: DecisionAllow},
		{WorkspaceID: "ws", ToolPathPattern: "stripe.customers.*", Priority: 5, Decision: DecisionDeny},
	})
	require.NoError(t, err)

	got := ps.Evaluate("ws", "", "", "stripe.customers.create", nil)
	require.Equal(t, DecisionDeny, got)

	got = ps.Evaluate("ws", "", "", "stripe.charges.create", nil)
	require.Equal(t, DecisionAllow, got)
}

func TestPolicySet_NoMatchDefaultsToAllowUnlessToolRequiresApproval(t *testing.T) {
	t.Parallel()
	ps, err := NewPolicySet(nil)
	require.NoError(t, err)

	require.Equal(t, DecisionAllow, ps.Evaluate("ws", "", "", "anything", nil))

	desc := &tool.Descriptor{Path: "anything", Approval: tool.ApprovalRequired}
	require.Equal(t, DecisionRequireApproval, ps.Evaluate("ws", "", "", "anything", desc))
}

func TestPolicySet_ExplicitRuleOverridesToolDefault(t *testing.T) {
	t.Parallel()
	ps, err := NewPolicySet([]Rule{
		{WorkspaceID: "ws", ToolPathPattern: "sensitive.*", Priority: 10, Decision: DecisionRequireApproval},
	})
	require.NoError(t, err)
	desc := &tool.Descriptor{Path: "sensitive.delete", Approval: tool.ApprovalAuto}
	require.Equal(t, DecisionRequireApproval, ps.Evaluate("ws", "", "", "sensitive.delete", desc))
}

func TestPolicySet_ExplicitAllowOverridesToolApprovalRequired(t *testing.T) {
	t.Parallel()
	ps, err := NewPolicySet([]Rule{
		{WorkspaceID: "ws", ToolPathPattern: "reports.*", Priority: 10, Decision: DecisionAllow},
	})
	require.NoError(t, err)
	desc := &tool.Descriptor{Path: "reports.export", Approval: tool.ApprovalRequired}
	require.Equal(t, DecisionAllow, ps.Evaluate("ws", "", "", "reports.export", desc))
}

func TestPolicySet_ScopedByActorAndClient(t *testing.T) {
	t.Parallel()
	ps, err := NewPolicySet([]Rule{
		{WorkspaceID: "ws", ActorID: "alice", ToolPathPattern: "*", Priority: 10, Decision: DecisionDeny},
	})
	require.NoError(t, err)

	require.Equal(t, DecisionDeny, ps.Evaluate("ws", "alice", "", "tool.x", nil))
	require.Equal(t, DecisionAllow, ps.Evaluate("ws", "bob", "", "tool.x", nil))
}
