package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"buddygate/config"
	"buddygate/utils"
)

// AuthGateway supplies and persists the upstream bearer token for a user.
// A missing token means the user is unauthenticated; the messaging core
// surfaces that instead of attempting anonymous access.
type AuthGateway interface {
	GetToken(userID int) (string, error)
	StoreToken(userID int, token string) error
	DeleteToken(userID int) error
}

// Client wraps HTTP access to a single WordPress install on behalf of one
// authenticated user.
type Client struct {
	http   *http.Client
	cfg    *config.WordPressConfig
	token  string
	logger *utils.Logger
}

// NewClient creates a client bound to the given bearer token. An empty
// token is allowed for the login call itself.
func NewClient(cfg *config.WordPressConfig, token string) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout()},
		cfg:    cfg,
		token:  token,
		logger: utils.Log.WithField("component", "wordpress"),
	}
}

// Config exposes the upstream configuration to callers that build URLs.
func (c *Client) Config() *config.WordPressConfig {
	return c.cfg
}

// SetToken replaces the bearer token, e.g. right after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// HasToken reports whether a bearer token is present.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// do issues one HTTP request and returns the status code and body. A
// transport-level failure is returned as an error; a non-2xx status is
// not, so callers can treat it as a failed candidate rather than a hard
// fault.
func (c *Client) do(ctx context.Context, method, url string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// Login exchanges WordPress credentials for a bearer token via the JWT
// auth plugin. The returned token is not stored on the client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, c.cfg.AuthBase+"/token", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", utils.InternalServerError("Authentication server unreachable", err)
	}
	if status < 200 || status >= 300 {
		return "", utils.UnauthorizedError("Invalid credentials", nil)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", utils.UnauthorizedError("Unexpected authentication response", err)
	}
	return resp.Token, nil
}
