// Package accessdir resolves a bearer token or session ID to a workspace's
// effective access context. The real user/tenant/organization/membership
// graph is an external directory out of scope for this system; this
// package is the thin black-box client seam the dispatcher and transport
// call against, with an HTTP-backed implementation for a directory that
// speaks a simple resolve endpoint.
package accessdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnauthenticated is returned when neither a bearer token nor a
// sessionId is supplied.
var ErrUnauthenticated = errors.New("accessdir: no bearer token or sessionId supplied")

// Access is the resolved identity bound to a workspace for one call.
type Access struct {
	WorkspaceID string
	AccountID   string
	Provider    string
	// Anonymous is true when the caller presented only a sessionId, with
	// no bearer token: AccountID is empty and the broker tracks the
	// caller solely by the client-supplied sessionId.
	Anonymous bool
}

// Directory resolves access for a (workspaceId, bearer|sessionId) pair.
type Directory interface {
	ResolveAccess(ctx context.Context, workspaceID, bearer, sessionID string) (*Access, error)
}

// HTTPDirectory calls an external directory service's resolve endpoint
// over HTTP. It implements Directory.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory constructs an HTTPDirectory against baseURL. A nil
// client defaults to an *http.Client with a 5s timeout.
func NewHTTPDirectory(baseURL string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPDirectory{baseURL: baseURL, client: client}
}

type resolveResponse struct {
	AccountID string `json:"accountId"`
	Provider  string `json:"provider"`
}

// ResolveAccess implements Directory. bearer takes precedence: when set,
// the directory is asked to resolve (workspaceID, bearer) to an account.
// Otherwise, with only sessionID set, the caller is treated as anonymous
// and no directory round trip is made.
func (d *HTTPDirectory) ResolveAccess(ctx context.Context, workspaceID, bearer, sessionID string) (*Access, error) {
	if bearer == "" && sessionID == "" {
		return nil, ErrUnauthenticated
	}
	if bearer == "" {
		return &Access{WorkspaceID: workspaceID, Anonymous: true}, nil
	}

	url := fmt.Sprintf("%s/resolve?workspaceId=%s", d.baseURL, workspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("accessdir: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("accessdir: resolve access: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("accessdir: resolve access: status %d", resp.StatusCode)
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("accessdir: decode response: %w", err)
	}
	return &Access{
		WorkspaceID: workspaceID,
		AccountID:   body.AccountID,
		Provider:    body.Provider,
	}, nil
}
