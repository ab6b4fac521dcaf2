// Package client talks to a broker's HTTP boundary. It is used by the CLI and
// by agents that reach the broker over the network rather than in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solorunner/nlm-auth-broker/internal/authapi"
	"github.com/solorunner/nlm-auth-broker/internal/broker"
)

// ErrNotFound is returned by Consume when the token has no pending cookies.
var ErrNotFound = errors.New("token not found or already consumed")

// StatusError is returned when the broker answers with an unexpected status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker responded with status %d", e.Code)
	}
	return fmt.Sprintf("broker responded with status %d: %s", e.Code, e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets how often WaitForCookies polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// Client is a broker HTTP client.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// New creates a Client for the broker at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("broker url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token asks the broker to issue a fresh token.
func (c *Client) Token(ctx context.Context) (string, error) {
	var resp authapi.TokenResponse
	if err := c.do(ctx, http.MethodGet, authapi.TokenEndpoint, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == nil {
		return "", fmt.Errorf("broker issued no token")
	}
	return *resp.Token, nil
}

// RegisterToken offers token for extension auto-fill.
func (c *Client) RegisterToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, authapi.RegisterTokenEndpoint,
		authapi.RegisterTokenRequest{Token: token}, nil)
}

// LatestToken returns the token offered for auto-fill, if any.
func (c *Client) LatestToken(ctx context.Context) (string, bool, error) {
	var resp authapi.TokenResponse
	if err := c.do(ctx, http.MethodGet, authapi.LatestTokenEndpoint, nil, &resp); err != nil {
		return "", false, err
	}
	if resp.Token == nil {
		return "", false, nil
	}
	return *resp.Token, true, nil
}

// Deliver posts cookies for token, as the extension does.
func (c *Client) Deliver(ctx context.Context, token string, cookies broker.Cookies) error {
	return c.do(ctx, http.MethodPost, authapi.CookiesEndpoint,
		authapi.DeliverRequest{Token: token, Cookies: cookies}, nil)
}

// Status polls token without consuming it.
func (c *Client) Status(ctx context.Context, token string) (broker.Status, error) {
	var resp authapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, authapi.StatusEndpoint+url.PathEscape(token), nil, &resp); err != nil {
		return broker.Status{}, err
	}
	return broker.Status{Ready: resp.Ready, Cookies: resp.Cookies}, nil
}

// Consume takes the cookies for token. It returns ErrNotFound when there are none.
func (c *Client) Consume(ctx context.Context, token string) (broker.Cookies, error) {
	var resp authapi.ConsumeResponse
	err := c.do(ctx, http.MethodPost, authapi.ConsumeEndpoint+url.PathEscape(token), nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp.Cookies, nil
}

// WaitForCookies polls until cookies for token arrive, then consumes them.
// It returns when ctx is done.
func (c *Client) WaitForCookies(ctx context.Context, token string) (broker.Cookies, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, token)
		if err != nil {
			return nil, err
		}
		if status.Ready {
			cookies, err := c.Consume(ctx, token)
			// Someone else consumed between poll and consume.
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("cookies for token were consumed elsewhere")
			}
			return cookies, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp authapi.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
