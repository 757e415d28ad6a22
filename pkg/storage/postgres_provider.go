package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db              *sql.DB
	keyStore        *PostgreSQLKeyStore
	invitationStore *PostgreSQLInvitationStore
	preferenceStore *PostgreSQLPreferenceStore
	membershipStore *PostgreSQLMembershipStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// DSN overrides the individual fields when set
	DSN string
}

// ConnectionString returns the lib/pq connection string
func (c PostgreSQLProviderConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgreSQLProviderWithDB(db), nil
}

// NewPostgreSQLProviderWithDB wraps an open database handle
func NewPostgreSQLProviderWithDB(db *sql.DB) *PostgreSQLProvider {
	return &PostgreSQLProvider{
		db:              db,
		keyStore:        &PostgreSQLKeyStore{db: db},
		invitationStore: &PostgreSQLInvitationStore{db: db},
		preferenceStore: &PostgreSQLPreferenceStore{db: db},
		membershipStore: &PostgreSQLMembershipStore{db: db},
	}
}

// Initialize creates the tables if they don't exist
func (p *PostgreSQLProvider) Initialize() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS api_keys_owner_idx ON api_keys (owner_id);

		CREATE TABLE IF NOT EXISTS invitations (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			email TEXT NOT NULL,
			role TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			invited_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			accepted_by TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS invitations_org_idx ON invitations (org_id);

		CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		);

		CREATE TABLE IF NOT EXISTS memberships (
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			role TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, org_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetKeyStore returns a store for API key metadata
func (p *PostgreSQLProvider) GetKeyStore() KeyStore {
	return p.keyStore
}

// GetInvitationStore returns a store for invitations
func (p *PostgreSQLProvider) GetInvitationStore() InvitationStore {
	return p.invitationStore
}

// GetPreferenceStore returns a store for preferences
func (p *PostgreSQLProvider) GetPreferenceStore() PreferenceStore {
	return p.preferenceStore
}

// GetMembershipStore returns a store for memberships
func (p *PostgreSQLProvider) GetMembershipStore() MembershipStore {
	return p.membershipStore
}

// PostgreSQLKeyStore implements the KeyStore interface using PostgreSQL
type PostgreSQLKeyStore struct {
	db *sql.DB
}

// Save persists key metadata
func (s *PostgreSQLKeyStore) Save(id string, meta KeyMetadata) error {
	_, err := s.db.Exec(`
		INSERT INTO api_keys (id, name, key_prefix, owner_id, org_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			key_prefix = EXCLUDED.key_prefix,
			owner_id = EXCLUDED.owner_id,
			org_id = EXCLUDED.org_id,
			created_at = EXCLUDED.created_at`,
		id, meta.Name, meta.KeyPrefix, meta.OwnerID, meta.OrgID, meta.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// Get retrieves key metadata
func (s *PostgreSQLKeyStore) Get(id string) (KeyMetadata, error) {
	var meta KeyMetadata
	err := s.db.QueryRow(
		"SELECT id, name, key_prefix, owner_id, org_id, created_at FROM api_keys WHERE id = $1",
		id,
	).Scan(&meta.ID, &meta.Name, &meta.KeyPrefix, &meta.OwnerID, &meta.OrgID, &meta.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return KeyMetadata{}, ErrKeyNotFound
		}
		return KeyMetadata{}, fmt.Errorf("failed to get api key: %w", err)
	}
	return meta, nil
}

// Delete removes key metadata
func (s *PostgreSQLKeyStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM api_keys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// ListForUser returns all keys owned by userID, newest first
func (s *PostgreSQLKeyStore) ListForUser(userID string) ([]KeyMetadata, error) {
	rows, err := s.db.Query(
		"SELECT id, name, key_prefix, owner_id, org_id, created_at FROM api_keys WHERE owner_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []KeyMetadata{}
	for rows.Next() {
		var meta KeyMetadata
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.KeyPrefix, &meta.OwnerID, &meta.OrgID, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}
	return keys, nil
}

// PostgreSQLInvitationStore implements the InvitationStore interface using PostgreSQL
type PostgreSQLInvitationStore struct {
	db *sql.DB
}

const invitationColumns = "id, org_id, email, role, token_hash, invited_by, created_at, expires_at, accepted_at, accepted_by"

// SaveInvitation persists an invitation
func (s *PostgreSQLInvitationStore) SaveInvitation(inv Invitation) error {
	var acceptedAt sql.NullTime
	if inv.AcceptedAt != nil {
		acceptedAt = sql.NullTime{Time: *inv.AcceptedAt, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at,
			accepted_at = EXCLUDED.accepted_at,
			accepted_by = EXCLUDED.accepted_by`,
		inv.ID, inv.OrgID, inv.Email, inv.Role, inv.TokenHash, inv.InvitedBy,
		inv.CreatedAt, inv.ExpiresAt, acceptedAt, inv.AcceptedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves an invitation
func (s *PostgreSQLInvitationStore) GetInvitation(id string) (Invitation, error) {
	row := s.db.QueryRow("SELECT "+invitationColumns+" FROM invitations WHERE id = $1", id)
	inv, err := scanInvitation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Invitation{}, ErrInvitationNotFound
		}
		return Invitation{}, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns all invitations for an organization
func (s *PostgreSQLInvitationStore) ListInvitations(orgID string) ([]Invitation, error) {
	rows, err := s.db.Query(
		"SELECT "+invitationColumns+" FROM invitations WHERE org_id = $1 ORDER BY created_at DESC",
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return invitations, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (Invitation, error) {
	var inv Invitation
	var acceptedAt sql.NullTime
	err := row.Scan(
		&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &inv.AcceptedBy,
	)
	if err != nil {
		return Invitation{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	return inv, nil
}

// PostgreSQLPreferenceStore implements the PreferenceStore interface using PostgreSQL
type PostgreSQLPreferenceStore struct {
	db *sql.DB
}

// GetPreference returns a stored preference
func (s *PostgreSQLPreferenceStore) GetPreference(userID, key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE user_id = $1 AND key = $2", userID, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrPreferenceNotFound
		}
		return "", fmt.Errorf("failed to get preference: %w", err)
	}
	return value, nil
}

// SetPreference stores a preference
func (s *PostgreSQLPreferenceStore) SetPreference(userID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (user_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// PostgreSQLMembershipStore implements the MembershipStore interface using PostgreSQL
type PostgreSQLMembershipStore struct {
	db *sql.DB
}

// AddMember creates or updates a membership
func (s *PostgreSQLMembershipStore) AddMember(m Membership) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO memberships (user_id, org_id, role, joined_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, org_id) DO UPDATE SET role = EXCLUDED.role`,
		m.UserID, m.OrgID, m.Role, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// ListMemberships returns the user's memberships
func (s *PostgreSQLMembershipStore) ListMemberships(userID string) ([]Membership, error) {
	rows, err := s.db.Query(
		"SELECT user_id, org_id, role, joined_at FROM memberships WHERE user_id = $1 ORDER BY joined_at",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	memberships := []Membership{}
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.OrgID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return memberships, nil
}
