// Package transport implements the session-bound streamable RPC surface
// described by the broker's Session Transport component: a chi-routed
// HTTP handler tree binding a workspace and actor to a persistent
// session, interleaving tool-execution requests with approval prompts,
// and serializing every dispatch within one session.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbroker/broker/dispatcher"
)

// Session is a transport-level binding between a client and the broker,
// surviving many RPC requests. It owns a per-session mutex that
// serializes dispatches (a mutex-guarded in-flight handle, not a
// replicated promise chain), the live subscriber channel a connected
// GET long-poll drains,
// and the pending in-band elicitation requests awaiting a response.
type Session struct {
	ID          string
	WorkspaceID string
	ActorID     string
	ClientID    string
	Anonymous   bool
	CreatedAt   time.Time

	mu sync.Mutex // serializes this session's request handling

	lastSeenMu sync.Mutex
	lastSeenAt time.Time

	subMu      sync.Mutex
	subscriber chan any

	pendingMu sync.Mutex
	pending   map[string]chan *dispatcher.ElicitResponse
}

// elicitationRequest is the message pushed onto a session's live stream
// when the approval gate attempts in-band elicitation.
type elicitationRequest struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	TaskID    string         `json:"taskId"`
	CallID    string         `json:"callId"`
	ToolPath  string         `json:"toolPath"`
	Input     map[string]any `json:"input"`
	Schema    any            `json:"schema"`
}

// newSession constructs a Session bound to the given identity.
func newSession(id, workspaceID, actorID, clientID string, anonymous bool, now time.Time) *Session {
	return &Session{
		ID:          id,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		ClientID:    clientID,
		Anonymous:   anonymous,
		CreatedAt:   now,
		lastSeenAt:  now,
		pending:     make(map[string]chan *dispatcher.ElicitResponse),
	}
}

// touch records the session was just dispatched through.
func (s *Session) touch(now time.Time) {
	s.lastSeenMu.Lock()
	s.lastSeenAt = now
	s.lastSeenMu.Unlock()
}

// Dispatch serializes fn against any other in-flight request on this
// session. A panicking or erroring fn never poisons the chain for the
// next caller — the mutex is always released via defer.
func (s *Session) Dispatch(now time.Time, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(now)
	return fn()
}

// attachSubscriber registers ch as this session's live elicitation feed, replacing any previous subscriber (a reconnecting GET stream
// supersedes the one it replaces).
func (s *Session) attachSubscriber(ch chan any) {
	s.subMu.Lock()
	s.subscriber = ch
	s.subMu.Unlock()
}

// detachSubscriber clears the live feed if ch is still the current one.
func (s *Session) detachSubscriber(ch chan any) {
	s.subMu.Lock()
	if s.subscriber == ch {
		s.subscriber = nil
	}
	s.subMu.Unlock()
}

// ErrNoSubscriber is returned by Elicit when no GET stream is currently
// attached to advertise in-band elicitation capability.
var ErrNoSubscriber = errors.New("transport: no live subscriber attached for in-band elicitation")

// Elicit implements dispatcher.Elicitor over the session's live stream:
// it pushes an elicitationRequest and blocks for a matching
// elicitation/respond call or ctx cancellation.
func (s *Session) Elicit(ctx context.Context, prompt dispatcher.ElicitPrompt) (*dispatcher.ElicitResponse, error) {
	s.subMu.Lock()
	sub := s.subscriber
	s.subMu.Unlock()
	if sub == nil {
		return nil, ErrNoSubscriber
	}

	requestID := uuid.NewString()
	ch := make(chan *dispatcher.ElicitResponse, 1)
	s.pendingMu.Lock()
	s.pending[requestID] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, requestID)
		s.pendingMu.Unlock()
	}()

	msg := elicitationRequest{
		Type:      "elicitation/request",
		RequestID: requestID,
		TaskID:    prompt.TaskID,
		CallID:    prompt.CallID,
		ToolPath:  prompt.ToolPath,
		Input:     prompt.Input,
		Schema:    decisionSchemaDoc,
	}
	select {
	case sub <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveElicitation delivers resp to the pending Elicit call waiting on
// requestID, reporting whether one was actually found (a client may
// answer a request that has already timed out or been superseded).
func (s *Session) ResolveElicitation(requestID string, resp *dispatcher.ElicitResponse) bool {
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// decisionSchemaDoc mirrors dispatcher's decisionSchemaJSON, exposed to
// an in-band elicitor as a plain JSON document rather than a compiled
// schema.
var decisionSchemaDoc = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision": map[string]any{"enum": []string{"approved", "denied"}},
		"reason":   map[string]any{"type": "string"},
	},
	"required": []string{"decision"},
}

// Manager registers and looks up sessions by ID: process-wide,
// thread-safe, concurrent across sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newID func() string
	clock func() time.Time
}

// NewManager constructs an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers and returns a new session bound to the given
// identity.
func (m *Manager) Create(workspaceID, actorID, clientID string, anonymous bool) *Session {
	s := newSession(m.newID(), workspaceID, actorID, clientID, anonymous, m.clock())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Lookup returns the session registered under id, if any.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close removes id from the map. Idempotent.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
