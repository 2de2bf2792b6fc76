package tool

// SourceType tags the external system a tool source describes.
type SourceType string

const (
	SourceMCP      SourceType = "mcp"
	SourceOpenAPI  SourceType = "openapi"
	SourceGraphQL  SourceType = "graphql"
)

// MCPConfig configures a peer MCP server source.
type MCPConfig struct {
	// URL is the streamable-HTTP endpoint; SSE is used as a connect
	// fallback.
	URL string
	// Headers is static auth for the peer. It feeds the registry's auth
	// fingerprint; the MCP loader and invoker do not send it, so MCP
	// connections are opened without these headers.
	Headers map[string]string
}

// OpenAPIConfig configures an OpenAPI/Swagger source.
type OpenAPIConfig struct {
	// SpecURL points at the OpenAPI document; mutually exclusive with
	// SpecBody (an already-fetched document, useful for tests).
	SpecURL string
	// SpecBody is an inline spec document, used instead of SpecURL.
	SpecBody []byte
	// AuthHeaders are static headers merged with per-call credential
	// headers on every call.
	AuthHeaders map[string]string
	// AllowParseOnly is intentionally unused by the loader today;
	// parse-only fallback on bundling failure is unconditional. The
	// field is retained so a future per-source opt-in can be wired
	// without an API break.
	AllowParseOnly bool
}

// GraphQLConfig configures a GraphQL source.
type GraphQLConfig struct {
	// Endpoint is the GraphQL HTTP endpoint.
	Endpoint string
	// Headers carries static auth sent on every request (introspection
	// and execution).
	Headers map[string]string
}

// SourceConfig models each source as a tagged variant at the source
// boundary: downstream code dispatches on the tag; no dynamic property
// probing inside the
// core." Exactly one of MCP/OpenAPI/GraphQL is non-nil, matching Type.
type SourceConfig struct {
	// Type selects which of MCP/OpenAPI/GraphQL is populated.
	Type SourceType
	// Name is unique within a workspace: (workspaceId, name) is unique.
	Name string

	MCP     *MCPConfig
	OpenAPI *OpenAPIConfig
	GraphQL *GraphQLConfig

	// ApprovalOverrides maps an operation identity to an explicit
	// approval mode, taking precedence over the method-based default.
	// For OpenAPI the key is the raw operationId. For GraphQL and MCP the
	// key is compared with the last segment of the sanitized tool path,
	// so a field or tool name matches only in its lowercased, sanitized
	// form (a field "createPet" is keyed "createpet").
	ApprovalOverrides map[string]Approval
}
