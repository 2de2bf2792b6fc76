package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/accessdir"
	"github.com/agentbroker/broker/config"
	"github.com/agentbroker/broker/dispatcher"
	"github.com/agentbroker/broker/engine"
	"github.com/agentbroker/broker/task"
	"github.com/agentbroker/broker/telemetry"
	"github.com/agentbroker/broker/tool"
	"github.com/agentbroker/broker/toolregistry"
	"github.com/agentbroker/broker/typecheck"
)

type fakeDirectory struct{}

func (fakeDirectory) ResolveAccess(_ context.Context, workspaceID, bearer, sessionID string) (*accessdir.Access, error) {
	if bearer == "" && sessionID == "" {
		return nil, accessdir.ErrUnauthenticated
	}
	return &accessdir.Access{WorkspaceID: workspaceID, AccountID: "actor-1"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()

	reg, err := toolregistry.New(8)
	require.NoError(t, err)
	sources := toolregistry.NewStaticSourceStore(map[string][]tool.SourceConfig{"ws1": {}})

	store := task.NewInMemoryStore()
	eng := engine.NewInProcess(telemetry.NewNoopLogger(), telemetry.NewNoopMetrics(), telemetry.NewNoopTracer())
	lifecycle, err := task.New(eng, store, &fakeSandbox{})
	require.NoError(t, err)

	policies, err := dispatcher.NewPolicySet(nil)
	require.NoError(t, err)

	return NewServer(cfg, fakeDirectory{}, sources, reg, typecheck.NewNullChecker(), policies, store, lifecycle, telemetry.NewNoopLogger())
}

type fakeSandbox struct{}

func (fakeSandbox) Run(_ context.Context, req task.SandboxRequest) (*task.SandboxResult, error) {
	return &task.SandboxResult{ExitCode: 0, Stdout: "result: {}\n"}, nil
}

func postJSON(t *testing.T, h http.Handler, url string, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_InitializeCreatesSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	rec := postJSON(t, r, "/mcp?workspaceId=ws1", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
	}, map[string]string{"Authorization": "Bearer tok"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(sessionIDHeader))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestServer_RunCodeRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	init := postJSON(t, r, "/mcp?workspaceId=ws1", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
	}, map[string]string{"Authorization": "Bearer tok"})
	sessionID := init.Header().Get(sessionIDHeader)
	require.NotEmpty(t, sessionID)

	call := postJSON(t, r, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/call",
		"params": map[string]any{
			"name": "run_code",
			"arguments": map[string]any{
				"code": "return 1;",
			},
		},
	}, map[string]string{sessionIDHeader: sessionID})

	require.Equal(t, http.StatusOK, call.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(call.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestServer_UnknownToolReturnsMethodNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	init := postJSON(t, r, "/mcp?workspaceId=ws1", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
	}, map[string]string{"Authorization": "Bearer tok"})
	sessionID := init.Header().Get(sessionIDHeader)

	call := postJSON(t, r, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/call",
		"params":  map[string]any{"name": "not_a_tool", "arguments": map[string]any{}},
	}, map[string]string{sessionIDHeader: sessionID})

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(call.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServer_GetWithoutSessionHeaderIsBadRequest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteUnknownSessionIsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionIDHeader, "missing")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_WellKnownRoutesDisabledByDefault(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
