package questrade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"chronos/internal/logger"
)

// Token is the durable credential record. It is rewritten after every
// successful refresh because Questrade rotates the refresh token each time.
type Token struct {
	APIServer    string `json:"api_server"`
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore persists the token record as JSON at a fixed path.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: strings.TrimSpace(path)}
}

func (s *TokenStore) Path() string { return s.path }

func (s *TokenStore) Load() (Token, error) {
	var tok Token
	if s.path == "" {
		return tok, fmt.Errorf("token path not set")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return tok, err
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return tok, fmt.Errorf("token file %s is not valid JSON: %w", s.path, err)
	}
	if tok.RefreshToken == "" {
		return tok, fmt.Errorf("token file %s has no refresh_token", s.path)
	}
	return tok, nil
}

func (s *TokenStore) Save(tok Token) error {
	if s.path == "" {
		return fmt.Errorf("token path not set")
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(tok, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Authenticate exchanges the held refresh token for a fresh access token.
// When no refresh token is held it falls back to the durable token store.
// On success the rotated credentials are stored both in memory and on disk.
//
// A missing credential or a failed exchange surfaces as *AuthError; the
// caller decides whether to prompt for a new refresh token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	refresh := c.refreshToken
	if refresh == "" {
		tok, err := c.tokens.Load()
		if err != nil {
			return &AuthError{Reason: "no refresh token provided and token file unreadable", Err: err}
		}
		refresh = tok.RefreshToken
	}

	u, err := url.Parse(c.loginURL)
	if err != nil {
		return &AuthError{Reason: "invalid login url", Err: err}
	}
	q := u.Query()
	q.Set("grant_type", "refresh_token")
	q.Set("refresh_token", refresh)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &AuthError{Reason: "building token request failed", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Reason: "token exchange request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &AuthError{Reason: fmt.Sprintf("token exchange rejected (%s): %s", resp.Status, strings.TrimSpace(string(data)))}
	}

	var tok Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return &AuthError{Reason: "token response is not valid JSON", Err: err}
	}
	if tok.AccessToken == "" || tok.APIServer == "" {
		return &AuthError{Reason: "token response missing access_token or api_server"}
	}

	c.apiServer = strings.TrimSuffix(tok.APIServer, "/") + "/"
	c.accessToken = tok.AccessToken
	c.tokenType = tok.TokenType
	c.expiresIn = tok.ExpiresIn
	c.refreshToken = tok.RefreshToken

	if err := c.tokens.Save(tok); err != nil {
		// A failed save is survivable for this process; the next run will
		// need a fresh refresh token.
		logger.Warnf("saving token file failed: %v", err)
	}
	return nil
}

// authenticated reports whether a usable session is held.
func (c *Client) authenticated() bool {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.accessToken != "" && c.apiServer != ""
}

func (c *Client) bearerHeader() (server, header string) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	tokenType := c.tokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return c.apiServer, tokenType + " " + c.accessToken
}
