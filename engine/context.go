package engine

import "context"

// wfCtxKey is the private context key used to stash a WorkflowContext inside
// a Go context passed to activities.
type wfCtxKey struct{}

// WithWorkflowContext returns a child context that carries wf. Engine
// adapters use this when invoking activity handlers so the handler can
// retrieve the originating workflow context if it needs to (e.g. to read
// the run ID for event correlation).
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WorkflowContextFromContext extracts a WorkflowContext from ctx, or nil if
// none was attached.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if v := ctx.Value(wfCtxKey{}); v != nil {
		if wf, ok := v.(WorkflowContext); ok {
			return wf
		}
	}
	return nil
}
