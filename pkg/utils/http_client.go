// Package utils provides shared plumbing for calls to external services.
package utils

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

	"github.com/tcmartin/devportal/pkg/auth"
)

// HTTPClient provides a reusable HTTP client with common functionality
type HTTPClient struct {
	client  *http.Client
	tokens  auth.TokenSource
	timeout time.Duration
}

// HTTPRequest represents an HTTP request
type HTTPRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Body        interface{}       `json:"body,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	RawBody    []byte              `json:"raw_body,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// StatusError is returned by DoJSON for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream responded with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// HTTPOption configures an HTTPClient
type HTTPOption func(*HTTPClient)

// WithTimeout sets the default per-request timeout
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.timeout = timeout
	}
}

// WithTokenSource attaches credentials to every request
func WithTokenSource(ts auth.TokenSource) HTTPOption {
	return func(c *HTTPClient) {
		c.tokens = ts
	}
}

// WithTransport replaces the underlying http.Client
func WithTransport(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		client:  &http.Client{},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes an HTTP request
func (c *HTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	// Set default method if not provided
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Create request body if provided
	var bodyReader io.Reader
	if req.Body != nil {
		switch body := req.Body.(type) {
		case string:
			bodyReader = strings.NewReader(body)
		case []byte:
			bodyReader = bytes.NewReader(body)
		default:
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBody)
		}
	}

	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if len(req.QueryParams) > 0 {
		q := parsedURL.Query()
		for key, value := range req.QueryParams {
			q.Set(key, value)
		}
		parsedURL.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, parsedURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		creds, err := c.tokens.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return nil, fmt.Errorf("failed to obtain credentials: %w", err)
		}
		if creds.BearerToken != "" && httpReq.Header.Get("Authorization") == "" {
			httpReq.Header.Set("Authorization", "Bearer "+creds.BearerToken)
		}
		if creds.OrgID != "" && httpReq.Header.Get("X-Organization-ID") == "" {
			httpReq.Header.Set("X-Organization-ID", creds.OrgID)
		}
	}

	startTime := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		RawBody:    body,
		Duration:   time.Since(startTime),
	}, nil
}

// DoJSON executes req and decodes a 2xx JSON body into out, which may be
// nil. Other statuses become a *StatusError carrying the upstream message.
func (c *HTTPClient) DoJSON(ctx context.Context, req *HTTPRequest, out interface{}) (*HTTPResponse, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.RawBody)}
	}

	if out != nil && len(bytes.TrimSpace(resp.RawBody)) > 0 {
		if err := json.Unmarshal(resp.RawBody, out); err != nil {
			return resp, fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return resp, nil
}

// errorMessage pulls a human-readable message out of an error body
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, m := range []string{payload.Error, payload.Message, payload.Detail} {
			if m != "" {
				return m
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// JoinURL appends path segments to a base URL
func JoinURL(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", base)
	}

	path := strings.TrimRight(u.Path, "/")
	rawPath := strings.TrimRight(u.EscapedPath(), "/")
	for _, s := range segments {
		s = strings.Trim(s, "/")
		path += "/" + s
		rawPath += "/" + url.PathEscape(s)
	}
	u.Path = path
	u.RawPath = rawPath
	return u.String(), nil
}
