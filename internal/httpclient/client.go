// Package httpclient executes JSON requests against a fixed base URL and
// transparently waits out rate-limit responses.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cfgkeeper/internal/retry"
	"cfgkeeper/internal/types"
	"cfgkeeper/internal/version"

	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	BaseURL   string
	Header    http.Header
	Username  string
	Password  string
	VerifySSL bool
	Timeout   time.Duration
	Policy    *retry.Policy
}

// Client performs requests and retries HTTP 429 responses per its policy
type Client struct {
	baseURL  string
	header   http.Header
	username string
	password string
	http     *http.Client
	policy   *retry.Policy
	logger   *zap.Logger
}

// Response holds a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", r.StatusCode, err)
	}
	return nil
}

// StatusError is returned by Fetch for unexpected statuses
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses to sentinel errors
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return types.ErrConflict
	case http.StatusTooManyRequests:
		return types.ErrRateLimited
	default:
		return nil
	}
}

// New creates a client
func New(opts Options, logger *zap.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if !opts.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		logger.Warn("TLS certificate verification disabled",
			zap.String("base_url", opts.BaseURL))
	}

	policy := opts.Policy
	if policy == nil {
		policy = retry.NewPolicy(nil, nil)
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		header:   header,
		username: opts.Username,
		password: opts.Password,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		policy: policy,
		logger: logger,
	}
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Policy returns the rate-limit policy in use
func (c *Client) Policy() *retry.Policy {
	return c.policy
}

// Request sends the request and returns whatever non-429 response arrives.
// The caller inspects the status.
func (c *Client) Request(ctx context.Context, method, path string, body any, params url.Values) (*Response, error) {
	endpoint := c.endpoint(path, params)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, method, endpoint, payload)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if !c.policy.Allow(attempt) {
			return nil, fmt.Errorf("%s %s: %w after %d retries", method, endpoint, types.ErrRateLimited, attempt)
		}

		delay := c.policy.Delay(resp.Header)
		c.logger.Info("Rate limited, sleeping before retry",
			zap.String("method", method),
			zap.String("url", endpoint),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1))

		if _, err := c.policy.Wait(ctx, resp.Header); err != nil {
			return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
		}
	}
}

// Fetch is the strict variant: any non-2xx status becomes a *StatusError.
func (c *Client) Fetch(ctx context.Context, method, path string, body any, params url.Values) (*Response, error) {
	resp, err := c.Request(ctx, method, path, body, params)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return resp, &StatusError{
			Method:     method,
			URL:        c.endpoint(path, params),
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug("Sending request",
		zap.String("method", method),
		zap.String("url", endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// endpoint resolves path against the base URL; absolute URLs pass through
func (c *Client) endpoint(path string, params url.Values) string {
	endpoint := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		endpoint = c.baseURL + path
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + params.Encode()
	}
	return endpoint
}
