// Package transport implements the outbound HTTP boundary of the
// provisioning client: bearer-authenticated GETs and form-encoded
// POSTs against endpoints discovered at runtime. A 401 is surfaced as
// a distinct typed error because it drives re-authorization upstream;
// every other non-2xx status is a generic failure carrying the status
// code and body text.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gookit/goutil"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
)

// DefaultTimeout bounds every outbound request.
const DefaultTimeout = 30 * time.Second

// Client performs authenticated and unauthenticated HTTP requests.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	userAgent  string
}

// New creates a new transport client.
func New(log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDevelopment("transport")
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:    log,
		userAgent: "nimbusvpn-provision",
	}
}

// HTTPClient exposes the underlying client so that collaborators which
// perform their own round-trips (the OAuth2 token source) share the
// same timeout policy.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Get performs a GET against the given URL. A non-empty accessToken is
// sent as a bearer credential. Returns the body and response headers.
func (c *Client) Get(ctx context.Context, rawURL, accessToken string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, accessToken)

	c.logger.Debug("making GET request", "url", rawURL, "authenticated", accessToken != "")
	return c.do(req)
}

// PostForm performs a form-encoded POST against the given URL. A
// non-empty accessToken is sent as a bearer credential.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("making POST request", "url", rawURL, "authenticated", accessToken != "")
	body, _, err := c.do(req)
	return body, err
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("User-Agent", c.userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("request completed", "url", req.URL.String(), "status", resp.StatusCode)
		return body, resp.Header, nil

	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Debug("request rejected as unauthorized", "url", req.URL.String())
		return nil, nil, apperrors.NewUnauthorizedError(req.URL.String())

	default:
		retryAfter := 0
		if retryHeader := resp.Header.Get("Retry-After"); retryHeader != "" {
			if val, err := goutil.ToInt(retryHeader); err == nil {
				retryAfter = val
			}
		}
		c.logger.Warn("unexpected response status",
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"retry_after", retryAfter)
		return nil, nil, apperrors.NewStatusError(req.URL.String(), resp.StatusCode, string(body), retryAfter)
	}
}
