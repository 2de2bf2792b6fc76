package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentbroker/broker/accessdir"
	"github.com/agentbroker/broker/config"
	"github.com/agentbroker/broker/dispatcher"
	"github.com/agentbroker/broker/task"
	"github.com/agentbroker/broker/telemetry"
	"github.com/agentbroker/broker/toolregistry"
	"github.com/agentbroker/broker/typecheck"
)

// sessionIDHeader is the transport's session-routing header.
const sessionIDHeader = "Mcp-Session-Id"

// Server wires the broker's core components behind the streamable RPC
// surface: access resolution, tool registry + typechecker, dispatcher +
// approval gate, and the task lifecycle.
type Server struct {
	Config    *config.Config
	Directory accessdir.Directory
	Sources   toolregistry.SourceStore
	Registry  *toolregistry.Registry
	Checker   typecheck.Checker
	Policies  *dispatcher.PolicySet
	Store     task.Store
	Lifecycle *task.Lifecycle
	Logger    telemetry.Logger

	sessions *Manager

	newID func() string
	clock func() time.Time
}

// NewServer constructs a Server. Logger defaults to telemetry.NoopLogger
// when nil.
func NewServer(cfg *config.Config, dir accessdir.Directory, sources toolregistry.SourceStore, reg *toolregistry.Registry, checker typecheck.Checker, policies *dispatcher.PolicySet, store task.Store, lifecycle *task.Lifecycle, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		Config:    cfg,
		Directory: dir,
		Sources:   sources,
		Registry:  reg,
		Checker:   checker,
		Policies:  policies,
		Store:     store,
		Lifecycle: lifecycle,
		Logger:    logger,
		sessions:  NewManager(),
		newID:     uuid.NewString,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the chi handler tree for the broker's HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/mcp", s.handlePost)
	r.Get("/mcp", s.handleGet)
	r.Delete("/mcp", s.handleDelete)
	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
	return r
}

// requestContext is the resolved identity + session a request dispatches
// against.
type requestContext struct {
	workspaceID string
	actorID     string
	clientID    string
	session     *Session // nil in the stateless fallback path
}

// resolve implements session lookup: a session-id header hit dispatches
// against the existing session (after updating its touch time); a miss
// falls back to stateless handling; no header at all means this is the
// first POST on a brand-new session, which is created and bound via the
// access directory.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*requestContext, *rpcError, int) {
	sessionID := r.Header.Get(sessionIDHeader)
	workspaceID := r.URL.Query().Get("workspaceId")
	anonSessionID := r.URL.Query().Get("sessionId")
	clientID := r.URL.Query().Get("clientId")

	if sessionID != "" {
		if sess, ok := s.sessions.Lookup(sessionID); ok {
			return &requestContext{workspaceID: sess.WorkspaceID, actorID: sess.ActorID, clientID: sess.ClientID, session: sess}, nil, 0
		}
		// Session miss: fall back to stateless handling rather than
		// failing the request outright.
		s.Logger.Warn(r.Context(), "transport: session miss, handling stateless", "sessionId", sessionID)
	}

	if s.Config.OAuth.Enabled && workspaceID == "" {
		return nil, &rpcError{Code: codeBadRequest, Message: "Bad Request: workspaceId query parameter is required"}, http.StatusBadRequest
	}

	bearer := bearerToken(r.Header.Get("Authorization"))
	access, err := s.Directory.ResolveAccess(r.Context(), workspaceID, bearer, anonSessionID)
	if err != nil {
		if s.Config.OAuth.Enabled {
			s.writeUnauthorized(w, err.Error())
			return nil, nil, -1 // signals the caller the response was already written
		}
		return nil, &rpcError{Code: codeBadRequest, Message: err.Error()}, http.StatusBadRequest
	}

	if sessionID != "" {
		// Stateless fallback: serve this request without persisting a session.
		return &requestContext{workspaceID: access.WorkspaceID, actorID: access.AccountID, clientID: clientID}, nil, 0
	}

	sess := s.sessions.Create(access.WorkspaceID, access.AccountID, clientID, access.Anonymous)
	w.Header().Set(sessionIDHeader, sess.ID)
	return &requestContext{workspaceID: access.WorkspaceID, actorID: access.AccountID, clientID: clientID, session: sess}, nil, 0
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, reason string) {
	value := fmt.Sprintf(`Bearer error="unauthorized", error_description=%q`, reason)
	if s.Config.OAuth.ResourceMetadataURL != "" {
		value += fmt.Sprintf(`, resource_metadata=%q`, s.Config.OAuth.ResourceMetadataURL)
	}
	w.Header().Set("WWW-Authenticate", value)
	w.WriteHeader(http.StatusUnauthorized)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	rc, rpcErr, status := s.resolve(w, r)
	if status == -1 {
		return // 401 already written by resolve
	}
	if rpcErr != nil {
		s.writeJSONRPCError(w, status, nil, *rpcErr)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONRPCError(w, http.StatusBadRequest, nil, rpcError{Code: codeBadRequest, Message: "invalid JSON-RPC request body"})
		return
	}

	var resp rpcResponse
	dispatch := func() error {
		resp = s.route(r.Context(), rc, req)
		return nil
	}
	if rc.session != nil {
		_ = rc.session.Dispatch(s.clock(), dispatch)
	} else {
		_ = dispatch()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) route(ctx context.Context, rc *requestContext, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{"elicitation": map[string]any{}},
			"serverInfo":      map[string]any{"name": "agentbroker", "version": "1"},
		})
	case "tools/call":
		return s.handleToolsCall(ctx, rc, req)
	case "elicitation/respond":
		return s.handleElicitationRespond(rc, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, status int, id any, e rpcError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &e})
}

// handleGet serves the long-lived subscription/keepalive stream: it
// requires a session-id header (a GET can never create a session),
// attaches as that session's live subscriber, and relays each message
// pushed onto that subscriber as newline-delimited JSON until the client
// disconnects. The only messages pushed there are the session's in-band
// elicitation requests; task events are not relayed on this stream.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionIDHeader)
	if sessionID == "" {
		s.writeJSONRPCError(w, http.StatusBadRequest, nil, rpcError{Code: codeBadRequest, Message: "Bad Request: Mcp-Session-Id header is required"})
		return
	}
	sess, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.writeJSONRPCError(w, http.StatusNotFound, nil, rpcError{Code: codeSessionNotFound, Message: "Session not found"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	ch := make(chan any, 32)
	sess.attachSubscriber(ch)
	defer sess.detachSubscriber(ch)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if err := enc.Encode(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete tears down a session: requires the session-id header,
// removes it from the map, which drops its last reference so any
// attached subscriber stream's request context cancellation is the only
// cleanup needed (the engine's own execution context is scoped to the
// task, not the session).
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionIDHeader)
	if sessionID == "" {
		s.writeJSONRPCError(w, http.StatusBadRequest, nil, rpcError{Code: codeBadRequest, Message: "Bad Request: Mcp-Session-Id header is required"})
		return
	}
	if _, ok := s.sessions.Lookup(sessionID); !ok {
		s.writeJSONRPCError(w, http.StatusNotFound, nil, rpcError{Code: codeSessionNotFound, Message: "Session not found"})
		return
	}
	s.sessions.Close(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleElicitationRespond(rc *requestContext, req rpcRequest) rpcResponse {
	if rc.session == nil {
		return errorResponse(req.ID, codeInvalidParams, "elicitation/respond requires a bound session")
	}
	raw, err := json.Marshal(req.Params)
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params")
	}
	var p struct {
		RequestID string `json:"requestId"`
		Action    string `json:"action"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params")
	}
	resolved := rc.session.ResolveElicitation(p.RequestID, &dispatcher.ElicitResponse{Action: p.Action, Decision: p.Decision, Reason: p.Reason})
	return resultResponse(req.ID, map[string]any{"resolved": resolved})
}
