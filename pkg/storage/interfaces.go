// Package storage provides interfaces for persistent storage.
package storage

import (
	"errors"
	"time"
)

// Errors returned by every storage provider
var (
	ErrKeyNotFound        = errors.New("api key not found")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrPreferenceNotFound = errors.New("preference not found")
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetKeyStore returns a store for API key metadata
	GetKeyStore() KeyStore

	// GetInvitationStore returns a store for teammate invitations
	GetInvitationStore() InvitationStore

	// GetPreferenceStore returns a store for per-user preferences
	GetPreferenceStore() PreferenceStore

	// GetMembershipStore returns a store for organization memberships
	GetMembershipStore() MembershipStore
}

// KeyStore manages API key metadata. Secrets are never stored.
type KeyStore interface {
	// Save persists metadata under id, replacing any previous value
	Save(id string, meta KeyMetadata) error

	// Get retrieves metadata by key ID
	Get(id string) (KeyMetadata, error)

	// Delete removes metadata
	Delete(id string) error

	// ListForUser returns all keys owned by userID
	ListForUser(userID string) ([]KeyMetadata, error)
}

// KeyMetadata describes an API key issued through the gateway
type KeyMetadata struct {
	// ID is the gateway's key identifier
	ID string `json:"id"`

	// Name is the label chosen by the user
	Name string `json:"name"`

	// KeyPrefix is the visible start of the secret
	KeyPrefix string `json:"key_prefix"`

	// CreatedAt is when the key was issued
	CreatedAt time.Time `json:"created_at"`

	// OwnerID is the user who created the key
	OwnerID string `json:"owner_id"`

	// OrgID is the organization the key belongs to
	OrgID string `json:"org_id"`
}

// InvitationStore manages teammate invitations
type InvitationStore interface {
	// SaveInvitation creates or updates an invitation
	SaveInvitation(inv Invitation) error

	// GetInvitation retrieves an invitation by ID
	GetInvitation(id string) (Invitation, error)

	// ListInvitations returns all invitations of an organization
	ListInvitations(orgID string) ([]Invitation, error)
}

// Invitation asks someone to join an organization
type Invitation struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	TokenHash  string     `json:"token_hash"`
	InvitedBy  string     `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
}

// Pending reports whether the invitation can still be accepted at now
func (i Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// PreferenceStore keeps small per-user settings
type PreferenceStore interface {
	// GetPreference returns the stored value or ErrPreferenceNotFound
	GetPreference(userID, key string) (string, error)

	// SetPreference stores a value
	SetPreference(userID, key, value string) error
}

// MembershipStore records which organizations a user belongs to
type MembershipStore interface {
	// AddMember creates or updates a membership
	AddMember(m Membership) error

	// ListMemberships returns every organization the user belongs to
	ListMemberships(userID string) ([]Membership, error)
}

// Membership links a user to an organization with a role
type Membership struct {
	UserID   string    `json:"user_id"`
	OrgID    string    `json:"org_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
