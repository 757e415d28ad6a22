package logstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/tcmartin/devportal/pkg/auth"
)

// StreamPath is the enrichment log stream endpoint relative to the API base URL
const StreamPath = "/api/v1/enrichment/logs/stream"

// SSETransport reads the log stream over server-sent events
type SSETransport struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
}

// SSEOption configures an SSETransport
type SSEOption func(*SSETransport)

// WithHTTPClient sets the HTTP client used for the stream. It must not
// carry an overall timeout.
func WithHTTPClient(c *http.Client) SSEOption {
	return func(t *SSETransport) {
		t.httpClient = c
	}
}

// WithTokenSource attaches bearer and organization headers to the request
func WithTokenSource(ts auth.TokenSource) SSEOption {
	return func(t *SSETransport) {
		t.tokens = ts
	}
}

// NewSSETransport creates a transport for the given API base URL
func NewSSETransport(baseURL string, opts ...SSEOption) *SSETransport {
	t := &SSETransport{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StreamURL builds the stream URL for a correlation ID
func (t *SSETransport) StreamURL(correlationID string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid API base URL %q: %v", ErrSetup, t.baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid API base URL %q", ErrSetup, t.baseURL)
	}

	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	q := u.Query()
	q.Set("correlationId", correlationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stream implements Transport
func (t *SSETransport) Stream(ctx context.Context, correlationID string, onOpen func(), onEvent func(Event)) error {
	streamURL, err := t.StreamURL(correlationID)
	if err != nil {
		return err
	}

	client := sse.NewClient(streamURL)
	client.Connection = t.httpClient
	// Reconnects are owned by Client so the backoff budget stays bounded.
	client.ReconnectStrategy = &backoff.StopBackOff{}

	if t.tokens != nil {
		creds, err := t.tokens.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return &TransportError{Err: fmt.Errorf("failed to obtain credentials: %w", err)}
		}
		if creds.BearerToken != "" {
			client.Headers["Authorization"] = "Bearer " + creds.BearerToken
		}
		if creds.OrgID != "" {
			client.Headers["X-Organization-ID"] = creds.OrgID
		}
	}

	client.ResponseValidator = func(c *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return &TransportError{StatusCode: resp.StatusCode}
		}
		onOpen()
		return nil
	}

	err = client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		name := string(msg.Event)
		if name == "" {
			name = "message"
		}
		onEvent(Event{Name: name, Data: append([]byte(nil), msg.Data...)})
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return te
		}
		return &TransportError{Err: err}
	}
	return nil
}
