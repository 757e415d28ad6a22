package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileProvider implements the StorageProvider interface on a single JSON
// document. Every mutation rewrites the whole file through a temp file and
// rename.
type FileProvider struct {
	path  string
	mu    sync.RWMutex
	state fileState
}

type fileState struct {
	Keys        map[string]KeyMetadata           `json:"keys"`
	Invitations map[string]Invitation            `json:"invitations"`
	Preferences map[string]map[string]string     `json:"preferences"`
	Memberships map[string]map[string]Membership `json:"memberships"`
}

// FileProviderConfig contains configuration for the file provider
type FileProviderConfig struct {
	Path string
}

// NewFileProvider creates a new JSON file storage provider
func NewFileProvider(config FileProviderConfig) (*FileProvider, error) {
	if config.Path == "" {
		return nil, errors.New("file path is required for file provider")
	}
	return &FileProvider{path: config.Path}, nil
}

// Initialize loads the file, creating it when missing
func (p *FileProvider) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.state = fileState{}
		p.state.ensure()
		return p.persistLocked()
	case err != nil:
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	var state fileState
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to parse storage file: %w", err)
		}
	}
	state.ensure()
	p.state = state
	return nil
}

// Close cleans up resources
func (p *FileProvider) Close() error {
	return nil
}

// GetKeyStore returns a store for API key metadata
func (p *FileProvider) GetKeyStore() KeyStore {
	return fileKeyStore{p}
}

// GetInvitationStore returns a store for invitations
func (p *FileProvider) GetInvitationStore() InvitationStore {
	return fileInvitationStore{p}
}

// GetPreferenceStore returns a store for preferences
func (p *FileProvider) GetPreferenceStore() PreferenceStore {
	return filePreferenceStore{p}
}

// GetMembershipStore returns a store for memberships
func (p *FileProvider) GetMembershipStore() MembershipStore {
	return fileMembershipStore{p}
}

func (s *fileState) ensure() {
	if s.Keys == nil {
		s.Keys = make(map[string]KeyMetadata)
	}
	if s.Invitations == nil {
		s.Invitations = make(map[string]Invitation)
	}
	if s.Preferences == nil {
		s.Preferences = make(map[string]map[string]string)
	}
	if s.Memberships == nil {
		s.Memberships = make(map[string]map[string]Membership)
	}
}

// mutate applies fn and persists the result. The in-memory state is rolled
// back when the write fails.
func (p *FileProvider) mutate(fn func(*fileState) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Keys == nil {
		return errors.New("file provider is not initialized")
	}

	backup, err := json.Marshal(p.state)
	if err != nil {
		return fmt.Errorf("failed to snapshot storage state: %w", err)
	}
	if err := fn(&p.state); err != nil {
		return err
	}
	if err := p.persistLocked(); err != nil {
		var restored fileState
		if json.Unmarshal(backup, &restored) == nil {
			restored.ensure()
			p.state = restored
		}
		return err
	}
	return nil
}

func (p *FileProvider) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	data, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync storage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close storage file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

type fileKeyStore struct{ p *FileProvider }

func (s fileKeyStore) Save(id string, meta KeyMetadata) error {
	meta.ID = id
	return s.p.mutate(func(st *fileState) error {
		st.Keys[id] = meta
		return nil
	})
}

func (s fileKeyStore) Get(id string) (KeyMetadata, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	meta, ok := s.p.state.Keys[id]
	if !ok {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return meta, nil
}

func (s fileKeyStore) Delete(id string) error {
	return s.p.mutate(func(st *fileState) error {
		if _, ok := st.Keys[id]; !ok {
			return ErrKeyNotFound
		}
		delete(st.Keys, id)
		return nil
	})
}

func (s fileKeyStore) ListForUser(userID string) ([]KeyMetadata, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	keys := []KeyMetadata{}
	for _, meta := range s.p.state.Keys {
		if meta.OwnerID == userID {
			keys = append(keys, meta)
		}
	}
	return keys, nil
}

type fileInvitationStore struct{ p *FileProvider }

func (s fileInvitationStore) SaveInvitation(inv Invitation) error {
	return s.p.mutate(func(st *fileState) error {
		st.Invitations[inv.ID] = inv
		return nil
	})
}

func (s fileInvitationStore) GetInvitation(id string) (Invitation, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	inv, ok := s.p.state.Invitations[id]
	if !ok {
		return Invitation{}, ErrInvitationNotFound
	}
	return inv, nil
}

func (s fileInvitationStore) ListInvitations(orgID string) ([]Invitation, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	invitations := []Invitation{}
	for _, inv := range s.p.state.Invitations {
		if inv.OrgID == orgID {
			invitations = append(invitations, inv)
		}
	}
	return invitations, nil
}

type filePreferenceStore struct{ p *FileProvider }

func (s filePreferenceStore) GetPreference(userID, key string) (string, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	value, ok := s.p.state.Preferences[userID][key]
	if !ok {
		return "", ErrPreferenceNotFound
	}
	return value, nil
}

func (s filePreferenceStore) SetPreference(userID, key, value string) error {
	return s.p.mutate(func(st *fileState) error {
		if _, ok := st.Preferences[userID]; !ok {
			st.Preferences[userID] = make(map[string]string)
		}
		st.Preferences[userID][key] = value
		return nil
	})
}

type fileMembershipStore struct{ p *FileProvider }

func (s fileMembershipStore) AddMember(m Membership) error {
	return s.p.mutate(func(st *fileState) error {
		if _, ok := st.Memberships[m.UserID]; !ok {
			st.Memberships[m.UserID] = make(map[string]Membership)
		}
		st.Memberships[m.UserID][m.OrgID] = m
		return nil
	})
}

func (s fileMembershipStore) ListMemberships(userID string) ([]Membership, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	memberships := []Membership{}
	for _, m := range s.p.state.Memberships[userID] {
		memberships = append(memberships, m)
	}
	return memberships, nil
}
