package questrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"chronos/internal/logger"
	"chronos/internal/ratelimit"
)

const defaultLoginURL = "https://login.questrade.com/oauth2/token"

// Options configures a Client.
type Options struct {
	// RefreshToken is the initial credential. When empty the client loads
	// one from the token file at TokenPath.
	RefreshToken string
	TokenPath    string
	// LoginURL is the OAuth token-exchange endpoint. Overridable for tests.
	LoginURL string
	// MaxRetries bounds retries while throttled (>= 0).
	MaxRetries       int
	EnforceRateLimit bool
	Timeout          time.Duration
	// Limiter may be shared between clients operating under one quota.
	// When nil the client owns a private limiter.
	Limiter *ratelimit.Limiter
}

// Client dispatches authenticated, rate-limited requests against the
// Questrade REST API. One Client exclusively owns one auth session; many
// Clients may share one ratelimit.Limiter.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tokens     *TokenStore
	loginURL   string

	maxRetries       int
	enforceRateLimit bool

	authMu       sync.Mutex
	apiServer    string
	accessToken  string
	tokenType    string
	expiresIn    int
	refreshToken string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) (*Client, error) {
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", opts.MaxRetries)
	}
	loginURL := strings.TrimSpace(opts.LoginURL)
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter()
	}
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          limiter,
		tokens:           NewTokenStore(opts.TokenPath),
		loginURL:         loginURL,
		maxRetries:       opts.MaxRetries,
		enforceRateLimit: opts.EnforceRateLimit,
		refreshToken:     strings.TrimSpace(opts.RefreshToken),
		now:              time.Now,
		sleep:            sleepContext,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Limiter exposes the limiter so it can be shared with another client.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// do performs one logical API call: authenticate if needed, gate on the rate
// limiter, issue the HTTP request, and classify the outcome. Throttling and
// 429 responses are retried up to maxRetries; a single 401 triggers exactly
// one re-authentication and replay. The loop checks the context only between
// steps, never aborting an in-flight request.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload any) ([]byte, error) {
	if !c.authenticated() {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	cat := ratelimit.CategoryFor(endpoint)
	reauthed := false

	for attempt := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, &APIError{Code: codeConnection, Message: "request aborted: " + err.Error()}
		}
		if c.enforceRateLimit {
			if wait := c.limiter.WaitDuration(cat); wait > 0 {
				if attempt >= c.maxRetries {
					return nil, newRateLimitError(wait)
				}
				logger.Debugf("throttling %s request for %s (attempt %d)", cat, wait, attempt+1)
				if err := c.sleep(ctx, wait); err != nil {
					return nil, &APIError{Code: codeConnection, Message: "request aborted: " + err.Error()}
				}
				attempt++
				continue
			}
		}

		// Record immediately before issuing so the window reflects real
		// issue order.
		c.limiter.Record(cat)
		status, header, body, err := c.issue(ctx, method, endpoint, params, payload)
		if err != nil {
			return nil, &APIError{Code: codeConnection, Message: "connection error: " + err.Error()}
		}
		c.noteRateHeaders(cat, header)

		switch {
		case status == http.StatusTooManyRequests:
			wait := c.waitFromReset(header)
			if attempt >= c.maxRetries {
				return nil, newRateLimitError(wait)
			}
			logger.Debugf("got 429 for %s, retrying after %s", endpoint, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &APIError{Code: codeConnection, Message: "request aborted: " + err.Error()}
			}
			attempt++
			continue

		case status == http.StatusUnauthorized:
			if reauthed {
				return nil, &AuthError{Code: codeTokenInvalid, Reason: "access token rejected after re-authentication"}
			}
			reauthed = true
			logger.Debugf("got 401 for %s, re-authenticating once", endpoint)
			if err := c.Authenticate(ctx); err != nil {
				return nil, err
			}
			// Replay the original request once; not counted against
			// maxRetries.
			continue

		case status >= 400:
			return nil, parseAPIError(body, status)
		}
		return body, nil
	}
}

func (c *Client) issue(ctx context.Context, method, endpoint string, params url.Values, payload any) (int, http.Header, []byte, error) {
	server, auth := c.bearerHeader()
	full := server + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		full += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("encoding request payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", auth)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

// noteRateHeaders feeds server-reported limit state into the limiter. Both
// headers must be present and parseable; absence means "no update", not
// "unlimited".
func (c *Client) noteRateHeaders(cat ratelimit.Category, header http.Header) {
	remaining := header.Get("X-RateLimit-Remaining")
	reset := header.Get("X-RateLimit-Reset")
	if remaining == "" || reset == "" {
		return
	}
	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	resetFloat, err := strconv.ParseFloat(reset, 64)
	if err != nil {
		return
	}
	sec, frac := int64(resetFloat), resetFloat-float64(int64(resetFloat))
	c.limiter.UpdateServerState(cat, remainingInt, time.Unix(sec, int64(frac*1e9)))
}

// waitFromReset derives a retry delay from the X-RateLimit-Reset header of a
// 429 response, defaulting to one second when unparseable.
func (c *Client) waitFromReset(header http.Header) time.Duration {
	reset := header.Get("X-RateLimit-Reset")
	if reset == "" {
		return time.Second
	}
	resetFloat, err := strconv.ParseFloat(reset, 64)
	if err != nil {
		return time.Second
	}
	wait := time.Duration((resetFloat - float64(c.now().UnixNano())/1e9) * float64(time.Second))
	if wait < 0 {
		return 0
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
