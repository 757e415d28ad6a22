package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/gateway"
	"github.com/tcmartin/devportal/pkg/storage"
)

var (
	ada   = auth.Principal{UserID: "user-ada", OrgID: "org-1", Email: "ada@example.com", Role: auth.RoleMember}
	grace = auth.Principal{UserID: "user-grace", OrgID: "org-1", Email: "grace@example.com", Role: auth.RoleAdmin}
)

func newKeyService(t *testing.T) (*KeyService, *mockIssuer, *storage.MemoryKeyStore) {
	t.Helper()
	issuer := &mockIssuer{}
	store := storage.NewMemoryKeyStore()
	svc := NewKeyService(issuer, store, nil)
	return svc, issuer, store
}

func TestKeyService_Create(t *testing.T) {
	svc, issuer, store := newKeyService(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	issuer.On("IssueKey", mock.Anything, "ci deploy").
		Return(gateway.IssuedKey{KeyID: "key-1", Secret: "dp_live_abcdefghijklmnop"}, nil)

	key, err := svc.Create(context.Background(), ada, "  ci deploy ")
	require.NoError(t, err)
	assert.Equal(t, "dp_live_abcdefghijklmnop", key.Secret)
	assert.Equal(t, "dp_live_abcd", key.KeyPrefix)
	assert.Equal(t, created, key.CreatedAt)

	saved, err := store.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, storage.KeyMetadata{
		ID:        "key-1",
		Name:      "ci deploy",
		KeyPrefix: "dp_live_abcd",
		CreatedAt: created,
		OwnerID:   ada.UserID,
		OrgID:     ada.OrgID,
	}, saved)

	issuer.AssertExpectations(t)
}

func TestKeyService_CreateValidation(t *testing.T) {
	svc, issuer, _ := newKeyService(t)

	_, err := svc.Create(context.Background(), ada, "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = svc.Create(context.Background(), ada, strings.Repeat("k", maxKeyNameLength+1))
	assert.ErrorAs(t, err, &verr)

	viewer := ada
	viewer.Role = auth.RoleViewer
	_, err = svc.Create(context.Background(), viewer, "ok")
	assert.ErrorIs(t, err, ErrForbidden)

	issuer.AssertNotCalled(t, "IssueKey", mock.Anything, mock.Anything)
}

func TestKeyService_CreateGatewayFailure(t *testing.T) {
	svc, issuer, store := newKeyService(t)
	issuer.On("IssueKey", mock.Anything, "x").Return(gateway.IssuedKey{}, errors.New("gateway down"))

	_, err := svc.Create(context.Background(), ada, "x")
	assert.ErrorContains(t, err, "gateway down")

	keys, err := store.ListForUser(ada.UserID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeyService_ListNewestFirst(t *testing.T) {
	svc, _, store := newKeyService(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save("old", storage.KeyMetadata{ID: "old", OwnerID: ada.UserID, OrgID: "org-1", CreatedAt: base}))
	require.NoError(t, store.Save("new", storage.KeyMetadata{ID: "new", OwnerID: ada.UserID, OrgID: "org-1", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Save("other-org", storage.KeyMetadata{ID: "other-org", OwnerID: ada.UserID, OrgID: "org-2", CreatedAt: base}))
	require.NoError(t, store.Save("graces", storage.KeyMetadata{ID: "graces", OwnerID: grace.UserID, OrgID: "org-1", CreatedAt: base}))

	keys, err := svc.List(ada)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "new", keys[0].ID)
	assert.Equal(t, "old", keys[1].ID)
}

func TestKeyService_Revoke(t *testing.T) {
	svc, issuer, store := newKeyService(t)
	require.NoError(t, store.Save("key-1", storage.KeyMetadata{ID: "key-1", OwnerID: ada.UserID, OrgID: ada.OrgID}))

	t.Run("not the owner", func(t *testing.T) {
		assert.ErrorIs(t, svc.Revoke(context.Background(), grace, "key-1"), ErrForbidden)
		issuer.AssertNotCalled(t, "RevokeKey", mock.Anything, mock.Anything)
	})

	t.Run("unknown key", func(t *testing.T) {
		assert.ErrorIs(t, svc.Revoke(context.Background(), ada, "nope"), storage.ErrKeyNotFound)
	})

	t.Run("owner", func(t *testing.T) {
		issuer.On("RevokeKey", mock.Anything, "key-1").Return(nil).Once()
		require.NoError(t, svc.Revoke(context.Background(), ada, "key-1"))

		_, err := store.Get("key-1")
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
		issuer.AssertExpectations(t)
	})
}

func TestKeyService_RevokeAlreadyGoneAtGateway(t *testing.T) {
	svc, issuer, store := newKeyService(t)
	require.NoError(t, store.Save("key-1", storage.KeyMetadata{ID: "key-1", OwnerID: ada.UserID, OrgID: ada.OrgID}))
	issuer.On("RevokeKey", mock.Anything, "key-1").Return(gateway.ErrKeyNotFound)

	require.NoError(t, svc.Revoke(context.Background(), ada, "key-1"))
	_, err := store.Get("key-1")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestKeyService_RevokeGatewayFailureKeepsMetadata(t *testing.T) {
	svc, issuer, store := newKeyService(t)
	require.NoError(t, store.Save("key-1", storage.KeyMetadata{ID: "key-1", OwnerID: ada.UserID, OrgID: ada.OrgID}))
	issuer.On("RevokeKey", mock.Anything, "key-1").Return(errors.New("timeout"))

	assert.Error(t, svc.Revoke(context.Background(), ada, "key-1"))
	_, err := store.Get("key-1")
	assert.NoError(t, err)
}
