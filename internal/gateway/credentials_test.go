package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, refreshes *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		require.Equal(t, "client-1", r.Form.Get("client_id"))

		refreshes.Add(1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abc",
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestCredentials_AuthHeaders(t *testing.T) {
	t.Run("TokenCachedAcrossCalls", func(t *testing.T) {
		var refreshes atomic.Int64

		srv := tokenServer(t, &refreshes, 3600)

		c := NewCredentials(CredentialsParams{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			IdentityURL:  srv.URL,
		})

		for i := 0; i < 5; i++ {
			headers := c.AuthHeaders(context.Background())
			assert.Equal(t, "Bearer tok-abc", headers["Authorization"])
			assert.Equal(t, "application/json", headers["Content-Type"])
		}

		assert.Equal(t, int64(1), refreshes.Load(), "a valid cached token must not refresh")
	})

	t.Run("RefreshesInsideMargin", func(t *testing.T) {
		var refreshes atomic.Int64

		srv := tokenServer(t, &refreshes, 3600)

		c := NewCredentials(CredentialsParams{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			IdentityURL:  srv.URL,
		})

		c.AuthHeaders(context.Background())
		require.Equal(t, int64(1), refreshes.Load())

		// Move the clock to just inside the refresh margin.
		c.now = func() time.Time { return c.expiresAt.Add(-refreshMargin / 2) }

		c.AuthHeaders(context.Background())
		assert.Equal(t, int64(2), refreshes.Load())
	})

	t.Run("FallsBackToSecretKeyWithoutOAuth", func(t *testing.T) {
		c := NewCredentials(CredentialsParams{SecretKey: "FLWSECK_TEST-xyz"})

		headers := c.AuthHeaders(context.Background())

		assert.Equal(t, "Bearer FLWSECK_TEST-xyz", headers["Authorization"])
	})

	t.Run("FallsBackWhenIdentityEndpointFails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		c := NewCredentials(CredentialsParams{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			IdentityURL:  srv.URL,
			SecretKey:    "FLWSECK_TEST-xyz",
		})

		headers := c.AuthHeaders(context.Background())

		assert.Equal(t, "Bearer FLWSECK_TEST-xyz", headers["Authorization"])
	})
}

func TestTokenTTL(t *testing.T) {
	t.Run("PrefersExpiresIn", func(t *testing.T) {
		got := tokenTTL(tokenResponse{AccessToken: "x", ExpiresIn: 600})

		assert.Equal(t, 10*time.Minute, got)
	})

	t.Run("DefaultsWhenUnparseable", func(t *testing.T) {
		got := tokenTTL(tokenResponse{AccessToken: "not-a-jwt"})

		assert.Equal(t, defaultTokenTTL, got)
	})
}

func TestCredentials_Identifiers(t *testing.T) {
	c := NewCredentials(CredentialsParams{SecretKey: "k"})

	assert.NotEqual(t, c.NewIdempotencyKey(), c.NewIdempotencyKey())
	assert.Regexp(t, `^trace_[0-9a-f]{32}$`, c.NewTraceID())
}
