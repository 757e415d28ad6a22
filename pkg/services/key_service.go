package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/gateway"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/storage"
)

// maxKeyNameLength bounds API key labels
const maxKeyNameLength = 100

// CreatedKey is the result of creating a key. Secret is shown once and never
// stored by the portal.
type CreatedKey struct {
	storage.KeyMetadata
	Secret string `json:"secret"`
}

// KeyService manages a user's API keys
type KeyService struct {
	issuer gateway.KeyIssuer
	store  storage.KeyStore
	logger logging.Logger
	now    func() time.Time
}

// NewKeyService creates a new key service
func NewKeyService(issuer gateway.KeyIssuer, store storage.KeyStore, logger logging.Logger) *KeyService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &KeyService{
		issuer: issuer,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create issues a key through the gateway and records its metadata
func (s *KeyService) Create(ctx context.Context, p auth.Principal, name string) (CreatedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CreatedKey{}, invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxKeyNameLength {
		return CreatedKey{}, invalid("name", "must be at most %d characters", maxKeyNameLength)
	}
	if !p.CanWrite() {
		return CreatedKey{}, ErrForbidden
	}

	issued, err := s.issuer.IssueKey(ctx, name)
	if err != nil {
		return CreatedKey{}, fmt.Errorf("failed to issue key: %w", err)
	}

	prefix := issued.Prefix
	if prefix == "" {
		prefix = gateway.Prefix(issued.Secret)
	}
	meta := storage.KeyMetadata{
		ID:        issued.KeyID,
		Name:      name,
		KeyPrefix: prefix,
		CreatedAt: s.now().UTC(),
		OwnerID:   p.UserID,
		OrgID:     p.OrgID,
	}

	if err := s.store.Save(meta.ID, meta); err != nil {
		// an unrecorded key could never be revoked from the portal
		if rerr := s.issuer.RevokeKey(ctx, meta.ID); rerr != nil {
			s.logger.Error("failed to revoke unrecorded key",
				logging.F("key_id", meta.ID), logging.Err(rerr))
		}
		return CreatedKey{}, fmt.Errorf("failed to save key metadata: %w", err)
	}

	s.logger.Info("api key created",
		logging.F("key_id", meta.ID), logging.F("user_id", p.UserID), logging.F("org_id", p.OrgID))
	return CreatedKey{KeyMetadata: meta, Secret: issued.Secret}, nil
}

// List returns the caller's keys in the current organization, newest first
func (s *KeyService) List(p auth.Principal) ([]storage.KeyMetadata, error) {
	all, err := s.store.ListForUser(p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]storage.KeyMetadata, 0, len(all))
	for _, k := range all {
		if k.OrgID == p.OrgID {
			keys = append(keys, k)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// Revoke revokes a key at the gateway and forgets its metadata. Only the
// owner may revoke a key.
func (s *KeyService) Revoke(ctx context.Context, p auth.Principal, keyID string) error {
	meta, err := s.store.Get(keyID)
	if err != nil {
		return err
	}
	if meta.OwnerID != p.UserID || meta.OrgID != p.OrgID {
		return ErrForbidden
	}

	if err := s.issuer.RevokeKey(ctx, keyID); err != nil && !errors.Is(err, gateway.ErrKeyNotFound) {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	if err := s.store.Delete(keyID); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key metadata: %w", err)
	}

	s.logger.Info("api key revoked", logging.F("key_id", keyID), logging.F("user_id", p.UserID))
	return nil
}
