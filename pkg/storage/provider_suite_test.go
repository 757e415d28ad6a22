package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runProviderSuite exercises every store of an initialized provider
func runProviderSuite(t *testing.T, provider StorageProvider) {
	t.Helper()

	assert.NotNil(t, provider.GetKeyStore())
	assert.NotNil(t, provider.GetInvitationStore())
	assert.NotNil(t, provider.GetPreferenceStore())
	assert.NotNil(t, provider.GetMembershipStore())

	t.Run("keys", func(t *testing.T) { testKeyStore(t, provider.GetKeyStore()) })
	t.Run("invitations", func(t *testing.T) { testInvitationStore(t, provider.GetInvitationStore()) })
	t.Run("preferences", func(t *testing.T) { testPreferenceStore(t, provider.GetPreferenceStore()) })
	t.Run("memberships", func(t *testing.T) { testMembershipStore(t, provider.GetMembershipStore()) })
}

func testKeyStore(t *testing.T, store KeyStore) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	older := KeyMetadata{Name: "ci", KeyPrefix: "sk_live_ab", CreatedAt: base, OwnerID: "user-1", OrgID: "org-1"}
	newer := KeyMetadata{Name: "prod", KeyPrefix: "sk_live_cd", CreatedAt: base.Add(time.Hour), OwnerID: "user-1", OrgID: "org-1"}
	other := KeyMetadata{Name: "other", KeyPrefix: "sk_live_ef", CreatedAt: base, OwnerID: "user-2", OrgID: "org-1"}

	require.NoError(t, store.Save("key-1", older))
	require.NoError(t, store.Save("key-2", newer))
	require.NoError(t, store.Save("key-3", other))

	got, err := store.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)
	assert.Equal(t, "ci", got.Name)
	assert.Equal(t, "sk_live_ab", got.KeyPrefix)
	assert.True(t, base.Equal(got.CreatedAt))

	keys, err := store.ListForUser("user-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	ids := []string{keys[0].ID, keys[1].ID}
	assert.ElementsMatch(t, []string{"key-1", "key-2"}, ids)

	keys, err = store.ListForUser("nobody")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Delete("key-1"))
	_, err = store.Get("key-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, store.Delete("key-1"), ErrKeyNotFound)

	keys, err = store.ListForUser("user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "key-2", keys[0].ID)
}

func testInvitationStore(t *testing.T, store InvitationStore) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := Invitation{
		ID:        "inv-1",
		OrgID:     "org-1",
		Email:     "dev@example.com",
		Role:      "member",
		TokenHash: "hash",
		InvitedBy: "user-1",
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, store.SaveInvitation(inv))
	require.NoError(t, store.SaveInvitation(Invitation{ID: "inv-2", OrgID: "org-2", CreatedAt: now, ExpiresAt: now}))

	got, err := store.GetInvitation("inv-1")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", got.Email)
	assert.Nil(t, got.AcceptedAt)
	assert.True(t, got.Pending(now))

	accepted := now.Add(time.Hour)
	got.AcceptedAt = &accepted
	got.AcceptedBy = "user-9"
	require.NoError(t, store.SaveInvitation(got))

	got, err = store.GetInvitation("inv-1")
	require.NoError(t, err)
	require.NotNil(t, got.AcceptedAt)
	assert.True(t, accepted.Equal(*got.AcceptedAt))
	assert.Equal(t, "user-9", got.AcceptedBy)
	assert.False(t, got.Pending(now))

	list, err := store.ListInvitations("org-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "inv-1", list[0].ID)

	_, err = store.GetInvitation("missing")
	assert.ErrorIs(t, err, ErrInvitationNotFound)
}

func testPreferenceStore(t *testing.T, store PreferenceStore) {
	_, err := store.GetPreference("user-1", "org")
	assert.ErrorIs(t, err, ErrPreferenceNotFound)

	require.NoError(t, store.SetPreference("user-1", "org", "org-1"))
	require.NoError(t, store.SetPreference("user-1", "org", "org-2"))
	require.NoError(t, store.SetPreference("user-2", "org", "org-3"))

	value, err := store.GetPreference("user-1", "org")
	require.NoError(t, err)
	assert.Equal(t, "org-2", value)
}

func testMembershipStore(t *testing.T, store MembershipStore) {
	joined := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddMember(Membership{UserID: "user-1", OrgID: "org-1", Role: "admin", JoinedAt: joined}))
	require.NoError(t, store.AddMember(Membership{UserID: "user-1", OrgID: "org-2", Role: "viewer", JoinedAt: joined.Add(time.Minute)}))
	require.NoError(t, store.AddMember(Membership{UserID: "user-1", OrgID: "org-2", Role: "member", JoinedAt: joined.Add(time.Minute)}))

	memberships, err := store.ListMemberships("user-1")
	require.NoError(t, err)
	require.Len(t, memberships, 2)

	roles := map[string]string{}
	for _, m := range memberships {
		roles[m.OrgID] = m.Role
	}
	assert.Equal(t, map[string]string{"org-1": "admin", "org-2": "member"}, roles)

	memberships, err = store.ListMemberships("user-2")
	require.NoError(t, err)
	assert.Empty(t, memberships)
}
