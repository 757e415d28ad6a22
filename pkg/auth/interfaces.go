// Package auth provides authentication and authorization functionality.
package auth

import (
	"context"
	"errors"
)

// Roles a portal member can hold within an organization
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// ErrNoCredentials is returned by a TokenSource that has nothing to offer
var ErrNoCredentials = errors.New("no credentials available")

// TokenValidator verifies a bearer token issued by the auth provider
type TokenValidator interface {
	// ValidateToken verifies a bearer token and returns the caller
	ValidateToken(token string) (Principal, error)
}

// Principal is an authenticated organization member
type Principal struct {
	// UserID is the auth provider's user identifier
	UserID string `json:"user_id"`

	// OrgID is the organization the request acts on
	OrgID string `json:"org_id"`

	// Email of the user
	Email string `json:"email,omitempty"`

	// Role within the organization
	Role string `json:"role"`
}

// IsAdmin reports whether the principal administers its organization
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanWrite reports whether the principal may change organization resources
func (p Principal) CanWrite() bool {
	return p.Role == RoleAdmin || p.Role == RoleMember
}

// Credentials are attached to outbound calls to external services
type Credentials struct {
	// BearerToken goes into the Authorization header
	BearerToken string

	// OrgID goes into the X-Organization-ID header
	OrgID string
}

// TokenSource supplies credentials for outbound requests
type TokenSource interface {
	Token(ctx context.Context) (Credentials, error)
}

// StaticTokenSource always returns the same credentials
type StaticTokenSource Credentials

// Token returns the fixed credentials
func (s StaticTokenSource) Token(ctx context.Context) (Credentials, error) {
	if s.BearerToken == "" {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials(s), nil
}

type principalKey struct{}

// WithPrincipal stores the caller in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by WithPrincipal
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ContextTokenSource forwards the bearer token of the inbound request
type ContextTokenSource struct{}

type bearerKey struct{}

// WithBearerToken stores the inbound bearer token in ctx
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

// Token returns the token and org stored on ctx
func (ContextTokenSource) Token(ctx context.Context) (Credentials, error) {
	token, _ := ctx.Value(bearerKey{}).(string)
	if token == "" {
		return Credentials{}, ErrNoCredentials
	}
	creds := Credentials{BearerToken: token}
	if p, ok := PrincipalFromContext(ctx); ok {
		creds.OrgID = p.OrgID
	}
	return creds, nil
}
