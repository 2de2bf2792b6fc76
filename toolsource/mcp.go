package toolsource

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentbroker/broker/tool"
)

// loadMCP connects to a peer MCP server and converts its tools/list
// response into descriptors. It tries a streamable-HTTP connection first,
// falls back to SSE on connect failure, and reconnects once more on a
// transient error before surfacing the failure to the caller as an
// isolated per-source warning.
func loadMCP(ctx context.Context, sourceName string, cfg *tool.MCPConfig) ([]*tool.Descriptor, error) {
	tools, err := listMCPTools(ctx, cfg)
	if err != nil && isTransient(err) {
		tools, err = listMCPTools(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("mcp source %q: %w", sourceName, err)
	}

	out := make([]*tool.Descriptor, 0, len(tools))
	for _, mt := range tools {
		mt := mt
		out = append(out, &tool.Descriptor{
			Path:        tool.SanitizePath(sourceName, mt.Name),
			Description: mt.Description,
			Approval:    tool.ApprovalAuto,
			Run:         mcpInvoker(cfg, mt.Name),
		})
	}
	return out, nil
}

// connectMCP opens a peer connection, trying streamable-HTTP first and
// falling back to SSE when the streamable-HTTP connect itself fails
// (refused, 404, protocol mismatch). The returned client is already
// started; the caller owns closing it.
func connectMCP(ctx context.Context, url string) (*mcpclient.Client, error) {
	c, httpErr := mcpclient.NewStreamableHttpClient(url)
	if httpErr == nil {
		if startErr := c.Start(ctx); startErr == nil {
			return c, nil
		} else {
			c.Close()
			httpErr = startErr
		}
	}

	sc, err := mcpclient.NewSSEMCPClient(url)
	if err != nil {
		return nil, fmt.Errorf("streamable-http: %w; sse connect: %w", httpErr, err)
	}
	if err := sc.Start(ctx); err != nil {
		sc.Close()
		return nil, fmt.Errorf("streamable-http: %w; sse start: %w", httpErr, err)
	}
	return sc, nil
}

func listMCPTools(ctx context.Context, cfg *tool.MCPConfig) ([]mcp.Tool, error) {
	c, err := connectMCP(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentbroker", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return resp.Tools, nil
}

// mcpInvoker returns a RunFunc that opens a fresh connection per call.
// The broker is stateless between invocations: sessions aren't pooled
// across tool calls, mirroring the transport's own per-request dispatch.
func mcpInvoker(cfg *tool.MCPConfig, name string) tool.RunFunc {
	return func(ctx context.Context, input map[string]any, cred tool.CredentialContext) (any, error) {
		c, err := connectMCP(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		defer c.Close()

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{Name: "agentbroker", Version: "0.1.0"}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		if _, err := c.Initialize(ctx, initReq); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}

		callReq := mcp.CallToolRequest{}
		callReq.Params.Name = name
		callReq.Params.Arguments = input

		result, err := c.CallTool(ctx, callReq)
		if err != nil {
			return nil, fmt.Errorf("call: %w", err)
		}
		if result.IsError {
			return nil, fmt.Errorf("tool %q returned an error result", name)
		}
		return mcpContentToAny(result.Content), nil
	}
}

func mcpContentToAny(content []mcp.Content) any {
	if len(content) == 1 {
		if tc, ok := content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	out := make([]any, len(content))
	for i, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			out[i] = tc.Text
			continue
		}
		out[i] = c
	}
	return out
}

func isTransient(err error) bool {
	// Connection resets and timeouts are worth a single retry; anything
	// else (bad URL, auth failure, malformed response) is unlikely to
	// succeed a second time.
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET)
}
