// Package authbridge talks to the auth backend: sign-up, password
// sign-in, sign-out and session restore, plus auth state change
// notifications for the rest of the storefront.
package authbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greenharvest/storefront/internal/models"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(authURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(authURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Session is the identity material the auth backend hands out.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         models.User `json:"user"`
}

// ExpiresAt converts the relative expiry into a wall-clock deadline
// anchored at now.
func (s *Session) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(s.ExpiresIn) * time.Second)
}

type authError struct {
	Message string `json:"msg"`
	ErrDesc string `json:"error_description"`
}

func (e authError) text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.ErrDesc != "" {
		return e.ErrDesc
	}
	return "authentication failed"
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae authError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		return fmt.Errorf("auth request failed (status %d): %s", resp.StatusCode, ae.text())
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges email/password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.post(ctx, "/auth/v1/token?grant_type=password", "", credentials{email, password}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SignUp registers a new account. Depending on backend settings the
// returned session may need email confirmation before sign-in works.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.post(ctx, "/auth/v1/signup", "", credentials{email, password}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SignOut revokes the session server-side. The caller clears local
// state regardless of the outcome.
func (c *Client) SignOut(ctx context.Context, bearer string) error {
	return c.post(ctx, "/auth/v1/logout", bearer, struct{}{}, nil)
}

// Refresh trades a refresh token for a fresh session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var s Session
	err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", "", body, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUser resolves the user behind an access token, used for session
// restore on load.
func (c *Client) GetUser(ctx context.Context, bearer string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user failed with status: %d", resp.StatusCode)
	}

	var u models.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &u, nil
}
