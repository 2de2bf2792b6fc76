package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/task"
)

type fakeInvoker struct {
	calls []task.ToolCall
	fn    func(task.ToolCall) (*task.ToolCallResult, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, call task.ToolCall) (*task.ToolCallResult, error) {
	f.calls = append(f.calls, call)
	if f.fn != nil {
		return f.fn(call)
	}
	return &task.ToolCallResult{OK: true, Value: call.Input}, nil
}

func TestGoja_ReturnValueBecomesResult(t *testing.T) {
	t.Parallel()
	g := New()
	res, err := g.Run(context.Background(), task.SandboxRequest{
		RunID: "run-1",
		Code:  "return { ok: true, n: 1 + 2 };",
		Tools: &fakeInvoker{},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "result:")
	require.Equal(t, map[string]interface{}{"ok": true, "n": int64(3)}, res.Value)
}

func TestGoja_ToolCallRoutesThroughInvoker(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{}
	g := New()
	res, err := g.Run(context.Background(), task.SandboxRequest{
		RunID: "run-2",
		Code:  `const r = await tools.stripe.customers.create({ name: "a" }); return r;`,
		Tools: inv,
	})
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)
	require.Equal(t, "stripe.customers.create", inv.calls[0].ToolPath)
	require.Equal(t, "run-2", inv.calls[0].RunID)
	require.Equal(t, map[string]interface{}{"name": "a"}, res.Value)
}

func TestGoja_ConsoleLogWritesStdout(t *testing.T) {
	t.Parallel()
	g := New()
	res, err := g.Run(context.Background(), task.SandboxRequest{
		RunID: "run-3",
		Code:  `console.log("hello", 1);`,
		Tools: &fakeInvoker{},
	})
	require.NoError(t, err)
	require.Contains(t, res.Stdout, "hello 1")
}

func TestGoja_DeniedToolCallSurfacesSentinel(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{fn: func(task.ToolCall) (*task.ToolCallResult, error) {
		return &task.ToolCallResult{OK: false, Denied: true, Error: "reviewer rejected"}, nil
	}}
	g := New()
	_, err := g.Run(context.Background(), task.SandboxRequest{
		RunID: "run-4",
		Code:  `await tools.risky.act({});`,
		Tools: inv,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), task.ApprovalDeniedPrefix)
}

func TestGoja_ContextDeadlineStopsInfiniteLoop(t *testing.T) {
	t.Parallel()
	g := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Run(ctx, task.SandboxRequest{
		RunID: "run-5",
		Code:  `while (true) {}`,
		Tools: &fakeInvoker{},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestGoja_UnknownGlobalThrowsAsRuntimeError(t *testing.T) {
	t.Parallel()
	g := New()
	_, err := g.Run(context.Background(), task.SandboxRequest{
		RunID: "run-6",
		Code:  `return doesNotExist();`,
		Tools: &fakeInvoker{},
	})
	require.Error(t, err)
}
