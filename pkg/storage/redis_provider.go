package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

// RedisProvider implements the StorageProvider interface using Redis.
// Records are JSON strings; listings use sorted sets scored by creation time.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisProvider creates a new Redis storage provider
func NewRedisProvider(config RedisProviderConfig) (*RedisProvider, error) {
	if config.Addr == "" {
		return nil, errors.New("redis address is required for redis provider")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisProviderWithClient(client, config.KeyPrefix), nil
}

// NewRedisProviderWithClient wraps an existing client
func NewRedisProviderWithClient(client *redis.Client, prefix string) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix}
}

// Initialize verifies the connection
func (p *RedisProvider) Initialize() error {
	if err := p.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// GetKeyStore returns a store for API key metadata
func (p *RedisProvider) GetKeyStore() KeyStore {
	return &RedisKeyStore{p}
}

// GetInvitationStore returns a store for invitations
func (p *RedisProvider) GetInvitationStore() InvitationStore {
	return &RedisInvitationStore{p}
}

// GetPreferenceStore returns a store for preferences
func (p *RedisProvider) GetPreferenceStore() PreferenceStore {
	return &RedisPreferenceStore{p}
}

// GetMembershipStore returns a store for memberships
func (p *RedisProvider) GetMembershipStore() MembershipStore {
	return &RedisMembershipStore{p}
}

func (p *RedisProvider) key(parts ...string) string {
	k := p.prefix
	for i, part := range parts {
		if i > 0 {
			k += ":"
		}
		k += part
	}
	return k
}

func (p *RedisProvider) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// RedisKeyStore implements the KeyStore interface using Redis
type RedisKeyStore struct {
	p *RedisProvider
}

// Save persists key metadata
func (s *RedisKeyStore) Save(id string, meta KeyMetadata) error {
	ctx := context.Background()
	meta.ID = id

	var previous KeyMetadata
	found, err := s.p.getJSON(ctx, s.p.key("key", id), &previous)
	if err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal api key: %w", err)
	}

	_, err = s.p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if found && previous.OwnerID != meta.OwnerID {
			pipe.ZRem(ctx, s.p.key("owner", previous.OwnerID, "keys"), id)
		}
		pipe.Set(ctx, s.p.key("key", id), data, 0)
		pipe.ZAdd(ctx, s.p.key("owner", meta.OwnerID, "keys"), &redis.Z{
			Score:  float64(meta.CreatedAt.UnixNano()),
			Member: id,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// Get retrieves key metadata
func (s *RedisKeyStore) Get(id string) (KeyMetadata, error) {
	var meta KeyMetadata
	found, err := s.p.getJSON(context.Background(), s.p.key("key", id), &meta)
	if err != nil {
		return KeyMetadata{}, err
	}
	if !found {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return meta, nil
}

// Delete removes key metadata
func (s *RedisKeyStore) Delete(id string) error {
	ctx := context.Background()
	meta, err := s.Get(id)
	if err != nil {
		return err
	}

	_, err = s.p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.p.key("key", id))
		pipe.ZRem(ctx, s.p.key("owner", meta.OwnerID, "keys"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

// ListForUser returns all keys owned by userID, newest first
func (s *RedisKeyStore) ListForUser(userID string) ([]KeyMetadata, error) {
	ctx := context.Background()
	ids, err := s.p.client.ZRevRange(ctx, s.p.key("owner", userID, "keys"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	keys := make([]KeyMetadata, 0, len(ids))
	for _, id := range ids {
		var meta KeyMetadata
		found, err := s.p.getJSON(ctx, s.p.key("key", id), &meta)
		if err != nil {
			return nil, err
		}
		if found {
			keys = append(keys, meta)
		}
	}
	return keys, nil
}

// RedisInvitationStore implements the InvitationStore interface using Redis
type RedisInvitationStore struct {
	p *RedisProvider
}

// SaveInvitation persists an invitation
func (s *RedisInvitationStore) SaveInvitation(inv Invitation) error {
	ctx := context.Background()
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal invitation: %w", err)
	}

	_, err = s.p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.p.key("invite", inv.ID), data, 0)
		pipe.ZAdd(ctx, s.p.key("org", inv.OrgID, "invites"), &redis.Z{
			Score:  float64(inv.CreatedAt.UnixNano()),
			Member: inv.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves an invitation
func (s *RedisInvitationStore) GetInvitation(id string) (Invitation, error) {
	var inv Invitation
	found, err := s.p.getJSON(context.Background(), s.p.key("invite", id), &inv)
	if err != nil {
		return Invitation{}, err
	}
	if !found {
		return Invitation{}, ErrInvitationNotFound
	}
	return inv, nil
}

// ListInvitations returns all invitations for an organization, newest first
func (s *RedisInvitationStore) ListInvitations(orgID string) ([]Invitation, error) {
	ctx := context.Background()
	ids, err := s.p.client.ZRevRange(ctx, s.p.key("org", orgID, "invites"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	invitations := make([]Invitation, 0, len(ids))
	for _, id := range ids {
		var inv Invitation
		found, err := s.p.getJSON(ctx, s.p.key("invite", id), &inv)
		if err != nil {
			return nil, err
		}
		if found {
			invitations = append(invitations, inv)
		}
	}
	return invitations, nil
}

// RedisPreferenceStore implements the PreferenceStore interface using Redis
type RedisPreferenceStore struct {
	p *RedisProvider
}

// GetPreference returns a stored preference
func (s *RedisPreferenceStore) GetPreference(userID, key string) (string, error) {
	value, err := s.p.client.HGet(context.Background(), s.p.key("prefs", userID), key).Result()
	if err == redis.Nil {
		return "", ErrPreferenceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get preference: %w", err)
	}
	return value, nil
}

// SetPreference stores a preference
func (s *RedisPreferenceStore) SetPreference(userID, key, value string) error {
	if err := s.p.client.HSet(context.Background(), s.p.key("prefs", userID), key, value).Err(); err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// RedisMembershipStore implements the MembershipStore interface using Redis
type RedisMembershipStore struct {
	p *RedisProvider
}

// AddMember creates or updates a membership
func (s *RedisMembershipStore) AddMember(m Membership) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}
	if err := s.p.client.HSet(context.Background(), s.p.key("members", m.UserID), m.OrgID, data).Err(); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// ListMemberships returns the user's memberships ordered by join time
func (s *RedisMembershipStore) ListMemberships(userID string) ([]Membership, error) {
	values, err := s.p.client.HGetAll(context.Background(), s.p.key("members", userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	memberships := make([]Membership, 0, len(values))
	for _, raw := range values {
		var m Membership
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	sort.Slice(memberships, func(i, j int) bool {
		return memberships[i].JoinedAt.Before(memberships[j].JoinedAt)
	})
	return memberships, nil
}
