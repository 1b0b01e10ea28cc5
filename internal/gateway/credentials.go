package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// refreshMargin is the minimum remaining validity a cached token must have
// before it is handed out; anything closer to expiry triggers a refresh
// first.
const refreshMargin = time.Minute

const defaultTokenTTL = 10 * time.Minute

// Credentials obtains and caches an OAuth2 bearer token via the
// client-credentials grant, falling back to a static secret key when OAuth
// is unconfigured or the identity endpoint fails. AuthHeaders never
// returns an error: a payment flow should degrade to key auth, not abort.
type Credentials struct {
	clientID     string
	clientSecret string
	identityURL  string
	secretKey    string

	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	tokenType string
	expiresAt time.Time
}

type CredentialsParams struct {
	ClientID     string
	ClientSecret string
	IdentityURL  string
	SecretKey    string
}

func NewCredentials(params CredentialsParams) *Credentials {
	c := &Credentials{
		clientID:     params.ClientID,
		clientSecret: params.ClientSecret,
		identityURL:  params.IdentityURL,
		secretKey:    params.SecretKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}

	if !c.OAuthConfigured() {
		slog.Warn("gateway OAuth credentials not configured, using fallback API key authentication")
	}

	return c
}

func (c *Credentials) OAuthConfigured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// AuthHeaders returns Authorization and Content-Type headers, refreshing
// the cached token when it has less than the safety margin of validity
// left. It fails soft: on any refresh problem the static key is used.
func (c *Credentials) AuthHeaders(ctx context.Context) map[string]string {
	token := c.accessToken(ctx)
	if token == "" {
		slog.Warn("using fallback API key authentication")

		token = c.secretKey
	}

	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
}

func (c *Credentials) accessToken(ctx context.Context) string {
	if !c.OAuthConfigured() {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.expiresAt.Sub(c.now()) >= refreshMargin {
		return c.token
	}

	if err := c.refreshLocked(ctx); err != nil {
		slog.Warn("gateway token refresh failed", "error", err)
		return ""
	}

	return c.token
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Credentials) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.identityURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	c.token = tr.AccessToken
	c.tokenType = tr.TokenType

	if c.tokenType == "" {
		c.tokenType = "Bearer"
	}

	c.expiresAt = c.now().Add(tokenTTL(tr))

	slog.Info("gateway access token refreshed", "expires_at", c.expiresAt)

	return nil
}

// tokenTTL prefers the endpoint's expires_in; when absent it falls back to
// the exp claim of the token itself (identity servers issue JWTs), and
// finally to a conservative default.
func tokenTTL(tr tokenResponse) time.Duration {
	if tr.ExpiresIn > 0 {
		return time.Duration(tr.ExpiresIn) * time.Second
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if ttl := time.Until(exp.Time); ttl > 0 {
				return ttl
			}
		}
	}

	return defaultTokenTTL
}

// NewIdempotencyKey generates a fresh idempotency key. Callers retrying
// the same logical operation should reuse the first key they generated so
// the gateway collapses the retries into one effect.
func (c *Credentials) NewIdempotencyKey() string {
	return uuid.NewString()
}

// NewTraceID generates a per-request trace identifier.
func (c *Credentials) NewTraceID() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
