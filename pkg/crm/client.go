// Package crm is the request/response client for the CRM integration backend.
package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tcmartin/devportal/pkg/utils"
)

// Provider names a supported CRM platform
type Provider string

// Supported providers
const (
	HubSpot    Provider = "hubspot"
	Salesforce Provider = "salesforce"
	Dynamics   Provider = "dynamics"
	LinkedIn   Provider = "linkedin"
)

var (
	// ErrUnknownProvider is returned for providers outside the supported set
	ErrUnknownProvider = errors.New("crm: unknown provider")

	// ErrMissingCredentials is returned when required credential fields are empty
	ErrMissingCredentials = errors.New("crm: missing credentials")
)

// requiredFields lists the credential fields each provider needs
var requiredFields = map[Provider][]string{
	HubSpot:    {"access_token"},
	Salesforce: {"instance_url", "client_id", "client_secret"},
	Dynamics:   {"environment_url", "tenant_id", "client_id", "client_secret"},
	LinkedIn:   {"access_token", "organization_id"},
}

// Providers returns the supported providers in name order
func Providers() []Provider {
	out := make([]Provider, 0, len(requiredFields))
	for p := range requiredFields {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseProvider validates a provider name
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := requiredFields[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// RequiredFields returns the credential fields a provider needs
func (p Provider) RequiredFields() []string {
	return append([]string(nil), requiredFields[p]...)
}

// Credentials are provider-specific connection settings
type Credentials map[string]string

// Validate checks that every required field for p is present
func (c Credentials) Validate(p Provider) error {
	fields, ok := requiredFields[p]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(c[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for %s: %s", ErrMissingCredentials, p, strings.Join(missing, ", "))
	}
	return nil
}

// Integration is a configured CRM connection
type Integration struct {
	ID           string                 `json:"id"`
	Provider     Provider               `json:"provider"`
	Name         string                 `json:"name"`
	Status       string                 `json:"status"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	LastSyncedAt *time.Time             `json:"last_synced_at,omitempty"`
}

// CreateIntegrationRequest configures a new integration
type CreateIntegrationRequest struct {
	Provider    Provider               `json:"provider"`
	Name        string                 `json:"name"`
	Credentials Credentials            `json:"credentials"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// ConnectionResult is the outcome of a connection test
type ConnectionResult struct {
	Provider      Provider  `json:"provider"`
	IntegrationID string    `json:"integration_id,omitempty"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Service is what the portal needs from the integration backend
type Service interface {
	TestConnection(ctx context.Context, provider Provider, creds Credentials) (ConnectionResult, error)
	CheckIntegration(ctx context.Context, integration Integration) (ConnectionResult, error)
	CreateIntegration(ctx context.Context, req CreateIntegrationRequest) (Integration, error)
	ListIntegrations(ctx context.Context) ([]Integration, error)
}

// Client implements Service over HTTP
type Client struct {
	baseURL string
	http    *utils.HTTPClient
	now     func() time.Time
}

// NewClient creates a client for the integration backend at baseURL
func NewClient(baseURL string, httpClient *utils.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	return &Client{baseURL: baseURL, http: httpClient, now: time.Now}
}

type testResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// TestConnection validates creds locally, then asks the backend to try them
func (c *Client) TestConnection(ctx context.Context, provider Provider, creds Credentials) (ConnectionResult, error) {
	if err := creds.Validate(provider); err != nil {
		return ConnectionResult{}, err
	}
	return c.test(ctx, provider, map[string]interface{}{"credentials": creds}, "")
}

// CheckIntegration re-tests a stored integration with its saved credentials
func (c *Client) CheckIntegration(ctx context.Context, integration Integration) (ConnectionResult, error) {
	if _, ok := requiredFields[integration.Provider]; !ok {
		return ConnectionResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, integration.Provider)
	}
	return c.test(ctx, integration.Provider, map[string]interface{}{"integration_id": integration.ID}, integration.ID)
}

func (c *Client) test(ctx context.Context, provider Provider, body map[string]interface{}, integrationID string) (ConnectionResult, error) {
	endpoint, err := utils.JoinURL(c.baseURL, "api", "v1", "integrations", string(provider), "test")
	if err != nil {
		return ConnectionResult{}, err
	}

	var resp testResponse
	httpResp, err := c.http.DoJSON(ctx, &utils.HTTPRequest{
		URL:    endpoint,
		Method: http.MethodPost,
		Body:   body,
	}, &resp)

	result := ConnectionResult{
		Provider:      provider,
		IntegrationID: integrationID,
		CheckedAt:     c.now().UTC(),
	}
	if httpResp != nil {
		result.LatencyMs = httpResp.Duration.Milliseconds()
	}

	var statusErr *utils.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError:
		// the backend rejected the credentials; that is a test result, not a failure
		result.Message = statusErr.Message
		return result, nil
	case err != nil:
		return ConnectionResult{}, fmt.Errorf("failed to test %s connection: %w", provider, err)
	}

	result.Success = resp.Success
	result.Message = firstNonEmpty(resp.Message, resp.Error)
	return result, nil
}

// CreateIntegration configures a new integration
func (c *Client) CreateIntegration(ctx context.Context, req CreateIntegrationRequest) (Integration, error) {
	if _, ok := requiredFields[req.Provider]; !ok {
		return Integration{}, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = string(req.Provider)
	}
	if err := req.Credentials.Validate(req.Provider); err != nil {
		return Integration{}, err
	}

	endpoint, err := utils.JoinURL(c.baseURL, "api", "v1", "integrations")
	if err != nil {
		return Integration{}, err
	}

	var integration Integration
	if _, err := c.http.DoJSON(ctx, &utils.HTTPRequest{
		URL:    endpoint,
		Method: http.MethodPost,
		Body:   req,
	}, &integration); err != nil {
		return Integration{}, fmt.Errorf("failed to create integration: %w", err)
	}
	return integration, nil
}

// ListIntegrations returns every configured integration
func (c *Client) ListIntegrations(ctx context.Context) ([]Integration, error) {
	endpoint, err := utils.JoinURL(c.baseURL, "api", "v1", "integrations")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Integrations []Integration `json:"integrations"`
	}
	resp, err := c.http.DoJSON(ctx, &utils.HTTPRequest{URL: endpoint}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	// accept both a bare array and {"integrations": [...]}
	var list []Integration
	if err := decodeEither(resp.RawBody, &list, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode integrations: %w", err)
	}
	if list == nil {
		list = envelope.Integrations
	}
	if list == nil {
		list = []Integration{}
	}
	return list, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
