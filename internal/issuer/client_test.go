// ABOUTME: Tests for the issuer HTTP client against httptest realms
// ABOUTME: Covers grants, user-info, logout, readiness, and admin bootstrap

package issuer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeatlas/atlas-gateway/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.IssuerConfig{
		URL:            srv.URL,
		Realm:          "atlas",
		ClientID:       "atlas-gateway",
		ClientSecret:   "secret",
		RequestTimeout: 2 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg, logger), srv
}

func TestUserInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/atlas/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"sub": "user-123",
			"preferred_username": "kara",
			"email": "kara@example.com",
			"realm_access": {"roles": ["user"]}
		}`)
	})

	client, _ := testClient(t, mux)
	ctx := context.Background()

	id, err := client.UserInfo(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.Subject)
	assert.Equal(t, "kara", id.Username)
	assert.True(t, id.HasRole("user"))

	_, err = client.UserInfo(ctx, "bad-token")
	require.ErrorIs(t, err, ErrUpstreamRejected)
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/atlas/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "atlas-gateway", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		if r.PostForm.Get("refresh_token") != "valid-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    300,
			TokenType:    "Bearer",
		})
	})

	client, _ := testClient(t, mux)
	ctx := context.Background()

	tr, err := client.Refresh(ctx, "valid-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tr.AccessToken)
	assert.Equal(t, "new-refresh", tr.RefreshToken)
	assert.Equal(t, 300, tr.ExpiresIn)

	_, err = client.Refresh(ctx, "revoked")
	require.ErrorIs(t, err, ErrUpstreamRejected)
}

func TestClientToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/atlas/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "svc-token", ExpiresIn: 60})
	})

	client, _ := testClient(t, mux)
	tr, err := client.ClientToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-token", tr.AccessToken)
}

func TestLogout(t *testing.T) {
	var sawToken string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/atlas/protocol/openid-connect/logout", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sawToken = r.PostForm.Get("refresh_token")
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := testClient(t, mux)
	require.NoError(t, client.Logout(context.Background(), "the-refresh"))
	assert.Equal(t, "the-refresh", sawToken)
}

func TestReady(t *testing.T) {
	healthy := true
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/atlas/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"issuer":"whatever"}`)
	})

	client, _ := testClient(t, mux)
	ctx := context.Background()

	require.NoError(t, client.Ready(ctx))

	healthy = false
	require.ErrorIs(t, client.Ready(ctx), ErrUpstreamRejected)
}

func TestUnreachableIssuer(t *testing.T) {
	client, srv := testClient(t, http.NewServeMux())
	srv.Close()

	_, err := client.UserInfo(context.Background(), "any")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, client.Ready(context.Background()), ErrUnavailable)
}

// TestEnsureAdminUser walks the full bootstrap path against a fake admin
// API: the user does not exist, gets created, passworded, and granted
// the admin realm role.
func TestEnsureAdminUser(t *testing.T) {
	var (
		created  bool
		password string
		roles    []realmRole
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/atlas/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "svc-token"})
	})
	mux.HandleFunc("GET /admin/realms/atlas/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "root", r.URL.Query().Get("username"))

		users := []adminUser{}
		if created {
			users = append(users, adminUser{ID: "uid-1", Username: "root", Enabled: true})
		}
		json.NewEncoder(w).Encode(users)
	})
	mux.HandleFunc("POST /admin/realms/atlas/users", func(w http.ResponseWriter, r *http.Request) {
		var u adminUser
		require.NoError(t, json.NewDecoder(r.Body).Decode(&u))
		assert.Equal(t, "root", u.Username)
		assert.True(t, u.Enabled)
		created = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PUT /admin/realms/atlas/users/uid-1/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var cred map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cred))
		password, _ = cred["value"].(string)
		assert.Equal(t, false, cred["temporary"])
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /admin/realms/atlas/roles/admin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(realmRole{ID: "role-admin", Name: "admin"})
	})
	mux.HandleFunc("POST /admin/realms/atlas/users/uid-1/role-mappings/realm", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&roles))
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := testClient(t, mux)
	require.NoError(t, client.EnsureAdminUser(context.Background(), "root", "hunter2"))

	assert.True(t, created)
	assert.Equal(t, "hunter2", password)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)

	// Second run is idempotent: user already exists, no second create.
	require.NoError(t, client.EnsureAdminUser(context.Background(), "root", "hunter2"))
}
