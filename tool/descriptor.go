// Package tool holds the flat, workspace-scoped tool descriptor and tool
// source configuration types shared by the loader, type synthesizer,
// registry, and dispatcher. It generalizes a compiled-codegen ToolSpec
// into a runtime-loaded Descriptor whose invocation closure is built at
// load time instead of generated at build
// time.
package tool

import "context"

// Approval describes whether a tool call proceeds automatically or must be
// gated behind an approval.
type Approval string

const (
	// ApprovalAuto lets the dispatcher invoke the tool without gating.
	ApprovalAuto Approval = "auto"
	// ApprovalRequired forces the dispatcher to enqueue an approval before
	// invoking the tool.
	ApprovalRequired Approval = "required"
)

// CredentialContext carries per-call auth material resolved for the
// invoking actor; the OpenAPI and GraphQL invocation closures merge it
// with a source's static auth, and the MCP invocation closure ignores it.
type CredentialContext struct {
	// Headers are merged into outbound HTTP requests, call-supplied values
	// win over static source auth.
	Headers map[string]string
}

// RunFunc invokes a tool with the given input and returns its JSON-shaped
// result (map[string]any, []any, or a scalar) or an error. Implementations
// are built by the tool source loader and never probe dynamic state
// beyond what the closure captured at load time.
type RunFunc func(ctx context.Context, input map[string]any, cred CredentialContext) (any, error)

// Descriptor is the flat record naming a callable tool. Path is
// segment-dotted (e.g. "stripe.customers.create").
type Descriptor struct {
	// Path is the fully qualified, sanitized, dot-joined tool path.
	Path string
	// Description is surfaced to the agent for tool selection.
	Description string
	// Approval is the default gating decision for this tool; the
	// dispatcher's policy layer may override it.
	Approval Approval
	// ArgsType is the synthesized type-string for the tool's input, or
	// empty if the synthesizer produced no hint (the typechecker then
	// defaults to a free-form object).
	ArgsType string
	// ReturnsType is the synthesized type-string for the tool's result,
	// or empty (the typechecker then defaults to "unknown").
	ReturnsType string
	// OperationID is the originating OpenAPI operationId, empty for
	// GraphQL and MCP tools.
	OperationID string
	// SchemaTypes holds the complete alias map for the tool's source,
	// attached only to the first tool produced from that source; nil on
	// every subsequent tool from the same source.
	SchemaTypes map[string]string
	// IsPseudo marks GraphQL discovery/policy-only pseudo-tools whose
	// Run delegates to another descriptor.
	IsPseudo bool
	// Run is the invocation closure built at load time.
	Run RunFunc
}
