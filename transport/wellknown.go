package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// handleProtectedResourceMetadata serves the OAuth protected-resource
// discovery document. Disabled deployments 404.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if !s.Config.OAuth.Enabled {
		http.NotFound(w, r)
		return
	}
	doc := map[string]any{
		"resource":              s.Config.OAuth.ResourceMetadataURL,
		"authorization_servers": []string{s.Config.OAuth.Issuer},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleAuthServerMetadata proxies the upstream authorization server's
// own discovery document verbatim.
func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	if !s.Config.OAuth.Enabled {
		http.NotFound(w, r)
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.Config.OAuth.Issuer+"/.well-known/oauth-authorization-server", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
