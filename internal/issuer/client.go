// ABOUTME: HTTP client for the external identity provider (Keycloak-compatible)
// ABOUTME: Covers user-info introspection, token grants, logout, and readiness

package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kubeatlas/atlas-gateway/internal/auth"
	"github.com/kubeatlas/atlas-gateway/internal/config"
)

// maxResponseBytes bounds how much of any issuer response we will read.
const maxResponseBytes = 1 << 20

var (
	// ErrUpstreamRejected means the issuer answered but refused the request
	// (non-2xx). Handlers map this to a client error rather than a 502.
	ErrUpstreamRejected = errors.New("issuer rejected request")

	// ErrUnavailable means the issuer could not be reached at all.
	ErrUnavailable = errors.New("issuer unavailable")
)

// TokenResponse is the issuer's answer to a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Client talks to the configured issuer realm. All endpoint URLs are
// derived from the realm configuration; every call is bounded by the
// configured request timeout.
type Client struct {
	cfg    config.IssuerConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an issuer client from realm configuration.
func NewClient(cfg config.IssuerConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With("component", "issuer"),
	}
}

// UserInfo presents a bearer token to the issuer's user-info endpoint.
// A 2xx answer is authoritative proof the token is valid; the returned
// identity carries whatever profile and role claims the issuer exposes
// there. Implements auth.Introspector.
func (c *Client) UserInfo(ctx context.Context, token string) (*auth.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserInfoURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("building user-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: user-info returned %d", ErrUpstreamRejected, resp.StatusCode)
	}

	var id auth.Identity
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&id); err != nil {
		return nil, fmt.Errorf("decoding user-info response: %w", err)
	}
	return &id, nil
}

// Refresh exchanges a refresh token for a fresh token pair. An upstream
// refusal (revoked or expired refresh token) returns ErrUpstreamRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return c.tokenGrant(ctx, form)
}

// ClientToken obtains a service-account access token via the
// client-credentials grant. Bootstrap uses it for the admin API.
func (c *Client) ClientToken(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	return c.tokenGrant(ctx, form)
}

func (c *Client) tokenGrant(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("token grant refused",
			"grant_type", form.Get("grant_type"),
			"status", resp.StatusCode)
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrUpstreamRejected, resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &tr, nil
}

// Logout invalidates a refresh token at the issuer.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LogoutURL(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: logout returned %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}

// Ready probes the issuer's OpenID discovery document. It answers the
// narrow question "is the realm up and serving metadata", which is what
// the readiness endpoint and the bootstrap loop both need.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.WellKnownURL(), nil)
	if err != nil {
		return fmt.Errorf("building well-known request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: well-known returned %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}
