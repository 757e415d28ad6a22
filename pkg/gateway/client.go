// Package gateway talks to the API gateway that issues and revokes API keys.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tcmartin/devportal/pkg/utils"
)

// ErrKeyNotFound is returned when the gateway does not know a key
var ErrKeyNotFound = errors.New("gateway: key not found")

// IssuedKey is a freshly created key. Secret is only ever returned once.
type IssuedKey struct {
	KeyID  string `json:"key_id"`
	Secret string `json:"secret"`
	Prefix string `json:"prefix"`
}

// KeyIssuer creates and revokes API keys
type KeyIssuer interface {
	IssueKey(ctx context.Context, name string) (IssuedKey, error)
	RevokeKey(ctx context.Context, keyID string) error
}

// Client is the HTTP KeyIssuer
type Client struct {
	baseURL string
	http    *utils.HTTPClient
}

// NewClient creates a gateway client for baseURL
func NewClient(baseURL string, httpClient *utils.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type issueResponse struct {
	ID     string `json:"id"`
	KeyID  string `json:"key_id"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
	Prefix string `json:"prefix"`
}

// IssueKey asks the gateway for a new key named name
func (c *Client) IssueKey(ctx context.Context, name string) (IssuedKey, error) {
	if strings.TrimSpace(name) == "" {
		return IssuedKey{}, errors.New("gateway: key name is required")
	}
	endpoint, err := utils.JoinURL(c.baseURL, "api", "v1", "keys")
	if err != nil {
		return IssuedKey{}, err
	}

	var resp issueResponse
	_, err = c.http.DoJSON(ctx, &utils.HTTPRequest{
		URL:    endpoint,
		Method: http.MethodPost,
		Body:   map[string]string{"name": name},
	}, &resp)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("failed to issue key: %w", err)
	}

	key := IssuedKey{
		KeyID:  firstNonEmpty(resp.KeyID, resp.ID),
		Secret: firstNonEmpty(resp.Secret, resp.Key),
		Prefix: resp.Prefix,
	}
	if key.KeyID == "" || key.Secret == "" {
		return IssuedKey{}, errors.New("gateway: incomplete key in response")
	}
	if key.Prefix == "" {
		key.Prefix = Prefix(key.Secret)
	}
	return key, nil
}

// RevokeKey revokes keyID
func (c *Client) RevokeKey(ctx context.Context, keyID string) error {
	endpoint, err := utils.JoinURL(c.baseURL, "api", "v1", "keys", keyID)
	if err != nil {
		return err
	}

	_, err = c.http.DoJSON(ctx, &utils.HTTPRequest{
		URL:    endpoint,
		Method: http.MethodDelete,
	}, nil)
	if err != nil {
		var statusErr *utils.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	return nil
}

// Prefix returns the visible start of a secret
func Prefix(secret string) string {
	const visible = 12
	if len(secret) <= visible {
		return secret
	}
	return secret[:visible]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
