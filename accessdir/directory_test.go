package accessdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPDirectory_ResolveAccessWithBearer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.Equal(t, "ws-1", r.URL.Query().Get("workspaceId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accountId":"acct-1","provider":"github"}`))
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, nil)
	access, err := d.ResolveAccess(context.Background(), "ws-1", "tok-123", "")
	require.NoError(t, err)
	require.Equal(t, "acct-1", access.AccountID)
	require.Equal(t, "github", access.Provider)
	require.False(t, access.Anonymous)
}

func TestHTTPDirectory_ResolveAccessAnonymousSessionOnly(t *testing.T) {
	t.Parallel()
	d := NewHTTPDirectory("http://unused.invalid", nil)
	access, err := d.ResolveAccess(context.Background(), "ws-1", "", "sess-1")
	require.NoError(t, err)
	require.True(t, access.Anonymous)
	require.Empty(t, access.AccountID)
}

func TestHTTPDirectory_ResolveAccessRequiresBearerOrSession(t *testing.T) {
	t.Parallel()
	d := NewHTTPDirectory("http://unused.invalid", nil)
	_, err := d.ResolveAccess(context.Background(), "ws-1", "", "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHTTPDirectory_ResolveAccessNonOKStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, nil)
	_, err := d.ResolveAccess(context.Background(), "ws-1", "tok-123", "")
	require.Error(t, err)
}
