package storage

import (
	"sync"
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	keyStore        *MemoryKeyStore
	invitationStore *MemoryInvitationStore
	preferenceStore *MemoryPreferenceStore
	membershipStore *MemoryMembershipStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		keyStore:        NewMemoryKeyStore(),
		invitationStore: NewMemoryInvitationStore(),
		preferenceStore: NewMemoryPreferenceStore(),
		membershipStore: NewMemoryMembershipStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetKeyStore returns a store for API key metadata
func (p *MemoryProvider) GetKeyStore() KeyStore {
	return p.keyStore
}

// GetInvitationStore returns a store for invitations
func (p *MemoryProvider) GetInvitationStore() InvitationStore {
	return p.invitationStore
}

// GetPreferenceStore returns a store for preferences
func (p *MemoryProvider) GetPreferenceStore() PreferenceStore {
	return p.preferenceStore
}

// GetMembershipStore returns a store for memberships
func (p *MemoryProvider) GetMembershipStore() MembershipStore {
	return p.membershipStore
}

// MemoryKeyStore implements the KeyStore interface using in-memory storage
type MemoryKeyStore struct {
	keys map[string]KeyMetadata
	mu   sync.RWMutex
}

// NewMemoryKeyStore creates a new in-memory key store
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]KeyMetadata),
	}
}

// Save persists key metadata
func (s *MemoryKeyStore) Save(id string, meta KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.ID = id
	s.keys[id] = meta
	return nil
}

// Get retrieves key metadata
func (s *MemoryKeyStore) Get(id string) (KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.keys[id]
	if !ok {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return meta, nil
}

// Delete removes key metadata
func (s *MemoryKeyStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

// ListForUser returns all keys owned by userID
func (s *MemoryKeyStore) ListForUser(userID string) ([]KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []KeyMetadata{}
	for _, meta := range s.keys {
		if meta.OwnerID == userID {
			keys = append(keys, meta)
		}
	}
	return keys, nil
}

// MemoryInvitationStore implements the InvitationStore interface using in-memory storage
type MemoryInvitationStore struct {
	invitations map[string]Invitation
	mu          sync.RWMutex
}

// NewMemoryInvitationStore creates a new in-memory invitation store
func NewMemoryInvitationStore() *MemoryInvitationStore {
	return &MemoryInvitationStore{
		invitations: make(map[string]Invitation),
	}
}

// SaveInvitation persists an invitation
func (s *MemoryInvitationStore) SaveInvitation(inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invitations[inv.ID] = inv
	return nil
}

// GetInvitation retrieves an invitation
func (s *MemoryInvitationStore) GetInvitation(id string) (Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return Invitation{}, ErrInvitationNotFound
	}
	return inv, nil
}

// ListInvitations returns all invitations for an organization
func (s *MemoryInvitationStore) ListInvitations(orgID string) ([]Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invitations := []Invitation{}
	for _, inv := range s.invitations {
		if inv.OrgID == orgID {
			invitations = append(invitations, inv)
		}
	}
	return invitations, nil
}

// MemoryPreferenceStore implements the PreferenceStore interface using in-memory storage
type MemoryPreferenceStore struct {
	prefs map[string]map[string]string
	mu    sync.RWMutex
}

// NewMemoryPreferenceStore creates a new in-memory preference store
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{
		prefs: make(map[string]map[string]string),
	}
}

// GetPreference returns a stored preference
func (s *MemoryPreferenceStore) GetPreference(userID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.prefs[userID][key]
	if !ok {
		return "", ErrPreferenceNotFound
	}
	return value, nil
}

// SetPreference stores a preference
func (s *MemoryPreferenceStore) SetPreference(userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prefs[userID]; !ok {
		s.prefs[userID] = make(map[string]string)
	}
	s.prefs[userID][key] = value
	return nil
}

// MemoryMembershipStore implements the MembershipStore interface using in-memory storage
type MemoryMembershipStore struct {
	members map[string]map[string]Membership
	mu      sync.RWMutex
}

// NewMemoryMembershipStore creates a new in-memory membership store
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{
		members: make(map[string]map[string]Membership),
	}
}

// AddMember creates or updates a membership
func (s *MemoryMembershipStore) AddMember(m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[m.UserID]; !ok {
		s.members[m.UserID] = make(map[string]Membership)
	}
	s.members[m.UserID][m.OrgID] = m
	return nil
}

// ListMemberships returns the user's memberships
func (s *MemoryMembershipStore) ListMemberships(userID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memberships := []Membership{}
	for _, m := range s.members[userID] {
		memberships = append(memberships, m)
	}
	return memberships, nil
}
