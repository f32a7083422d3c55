// ABOUTME: Minimal issuer admin API surface used by startup bootstrap
// ABOUTME: Query/create a user, set its password, and grant the admin realm role

package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// adminUser is the slice of the issuer's user representation bootstrap
// cares about.
type adminUser struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

// realmRole is the issuer's realm role representation.
type realmRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureAdminUser makes sure a user with the given name exists, has the
// given password, and holds the admin realm role. It is idempotent:
// running it against an already-provisioned realm changes nothing but
// the password. The client authenticates with its own service account,
// so the configured client needs realm-management permissions.
func (c *Client) EnsureAdminUser(ctx context.Context, username, password string) error {
	grant, err := c.ClientToken(ctx)
	if err != nil {
		return fmt.Errorf("acquiring service-account token: %w", err)
	}
	token := grant.AccessToken

	userID, err := c.findUser(ctx, token, username)
	if err != nil {
		return err
	}
	if userID == "" {
		if userID, err = c.createUser(ctx, token, username); err != nil {
			return err
		}
		c.logger.Info("created bootstrap admin user", "username", username)
	}

	if err := c.setPassword(ctx, token, userID, password); err != nil {
		return err
	}
	return c.assignRealmRole(ctx, token, userID, "admin")
}

func (c *Client) findUser(ctx context.Context, token, username string) (string, error) {
	endpoint := fmt.Sprintf("%s/users?username=%s&exact=true",
		c.cfg.AdminURL(), url.QueryEscape(username))

	var users []adminUser
	if err := c.adminGet(ctx, token, endpoint, &users); err != nil {
		return "", fmt.Errorf("looking up user %q: %w", username, err)
	}
	for _, u := range users {
		if u.Username == username {
			return u.ID, nil
		}
	}
	return "", nil
}

func (c *Client) createUser(ctx context.Context, token, username string) (string, error) {
	endpoint := c.cfg.AdminURL() + "/users"
	body := adminUser{Username: username, Enabled: true}

	resp, err := c.adminDo(ctx, token, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating user %q: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: create user returned %d", ErrUpstreamRejected, resp.StatusCode)
	}

	// The issuer answers 201 with a Location header naming the new user;
	// re-querying is simpler than parsing it.
	return c.findUser(ctx, token, username)
}

func (c *Client) setPassword(ctx context.Context, token, userID, password string) error {
	endpoint := fmt.Sprintf("%s/users/%s/reset-password", c.cfg.AdminURL(), userID)
	body := map[string]any{
		"type":      "password",
		"value":     password,
		"temporary": false,
	}

	resp, err := c.adminDo(ctx, token, http.MethodPut, endpoint, body)
	if err != nil {
		return fmt.Errorf("setting password: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: reset-password returned %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}

func (c *Client) assignRealmRole(ctx context.Context, token, userID, roleName string) error {
	var role realmRole
	roleURL := fmt.Sprintf("%s/roles/%s", c.cfg.AdminURL(), url.PathEscape(roleName))
	if err := c.adminGet(ctx, token, roleURL, &role); err != nil {
		return fmt.Errorf("fetching realm role %q: %w", roleName, err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/role-mappings/realm", c.cfg.AdminURL(), userID)
	resp, err := c.adminDo(ctx, token, http.MethodPost, endpoint, []realmRole{role})
	if err != nil {
		return fmt.Errorf("assigning realm role %q: %w", roleName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: role mapping returned %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}

// adminGet performs an authenticated GET and decodes the JSON answer.
func (c *Client) adminGet(ctx context.Context, token, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: admin API returned %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out)
}

// adminDo performs an authenticated request with a JSON body. The caller
// owns the response and its status handling.
func (c *Client) adminDo(ctx context.Context, token, method, endpoint string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}
