package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/mail"
	"github.com/tcmartin/devportal/pkg/storage"
)

type invitationFixture struct {
	svc     *InvitationService
	sender  *mockSender
	store   *storage.MemoryInvitationStore
	members *storage.MemoryMembershipStore
	now     time.Time
}

func newInvitationFixture(t *testing.T) *invitationFixture {
	t.Helper()
	f := &invitationFixture{
		sender:  &mockSender{},
		store:   storage.NewMemoryInvitationStore(),
		members: storage.NewMemoryMembershipStore(),
		now:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewInvitationService(f.store, f.members, f.sender, "https://portal.example.com/", nil)
	f.svc.cost = bcrypt.MinCost
	f.svc.now = func() time.Time { return f.now }
	return f
}

func tokenFrom(t *testing.T, acceptURL string) string {
	t.Helper()
	u, err := url.Parse(acceptURL)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestInvitationService_Invite(t *testing.T) {
	f := newInvitationFixture(t)

	var sent mail.Message
	f.sender.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(mail.Message) }).
		Return(nil)

	created, err := f.svc.Invite(context.Background(), grace, "Linus <Linus@Example.com>", "")
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "linus@example.com", created.Email)
	assert.Equal(t, auth.RoleMember, created.Role)
	assert.Equal(t, grace.UserID, created.InvitedBy)
	assert.Equal(t, f.now.Add(InvitationTTL), created.ExpiresAt)
	assert.Contains(t, created.AcceptURL, "https://portal.example.com/invitations/"+created.ID+"/accept?token=")

	stored, err := f.store.GetInvitation(created.ID)
	require.NoError(t, err)
	token := tokenFrom(t, created.AcceptURL)
	assert.NotEqual(t, token, stored.TokenHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.TokenHash), []byte(token)))

	assert.Equal(t, []string{"linus@example.com"}, sent.To)
	assert.Contains(t, sent.Body, created.AcceptURL)
	assert.Contains(t, sent.Body, "grace@example.com invited you")
	assert.Equal(t, created.ID, sent.Headers["X-Portal-Invitation"])
}

func TestInvitationService_InviteValidation(t *testing.T) {
	f := newInvitationFixture(t)

	_, err := f.svc.Invite(context.Background(), ada, "x@example.com", "member")
	assert.ErrorIs(t, err, ErrForbidden)

	var verr *ValidationError
	_, err = f.svc.Invite(context.Background(), grace, "not-an-email", "member")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	_, err = f.svc.Invite(context.Background(), grace, "x@example.com", "owner")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)

	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestInvitationService_InviteDeliveryFailure(t *testing.T) {
	f := newInvitationFixture(t)
	f.sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	_, err := f.svc.Invite(context.Background(), grace, "x@example.com", "viewer")
	assert.ErrorContains(t, err, "smtp down")

	pending, err := f.svc.ListPending(grace)
	require.NoError(t, err)
	assert.Empty(t, pending, "an unsent invitation must not stay pending")

	_, err = f.svc.Invite(context.Background(), grace, "x@example.com", "viewer")
	require.Error(t, err)
	pending, err = f.svc.ListPending(grace)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInvitationService_AcceptRetriesAfterMembershipFailure(t *testing.T) {
	f := newInvitationFixture(t)
	members := &flakyMembers{MemoryMembershipStore: f.members, failures: 1}
	f.svc.members = members
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := f.svc.Invite(context.Background(), grace, "linus@example.com", "")
	require.NoError(t, err)
	token := tokenFrom(t, created.AcceptURL)
	linus := auth.Principal{UserID: "user-linus", Email: "linus@example.com"}

	_, err = f.svc.Accept(context.Background(), linus, created.ID, token)
	require.ErrorContains(t, err, "db down")

	stored, err := f.store.GetInvitation(created.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AcceptedAt)

	m, err := f.svc.Accept(context.Background(), linus, created.ID, token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", m.OrgID)

	memberships, err := f.members.ListMemberships("user-linus")
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}

func TestInvitationService_Accept(t *testing.T) {
	f := newInvitationFixture(t)
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := f.svc.Invite(context.Background(), grace, "linus@example.com", auth.RoleViewer)
	require.NoError(t, err)
	token := tokenFrom(t, created.AcceptURL)

	linus := auth.Principal{UserID: "user-linus", OrgID: "org-9", Email: "LINUS@example.com"}

	t.Run("wrong token", func(t *testing.T) {
		_, err := f.svc.Accept(context.Background(), linus, created.ID, "nope")
		assert.ErrorIs(t, err, ErrInvalidInvitationToken)
	})

	t.Run("someone else", func(t *testing.T) {
		_, err := f.svc.Accept(context.Background(), ada, created.ID, token)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown invitation", func(t *testing.T) {
		_, err := f.svc.Accept(context.Background(), linus, "missing", token)
		assert.ErrorIs(t, err, storage.ErrInvitationNotFound)
	})

	t.Run("success", func(t *testing.T) {
		m, err := f.svc.Accept(context.Background(), linus, created.ID, token)
		require.NoError(t, err)
		assert.Equal(t, storage.Membership{UserID: "user-linus", OrgID: "org-1", Role: auth.RoleViewer, JoinedAt: f.now}, m)

		memberships, err := f.members.ListMemberships("user-linus")
		require.NoError(t, err)
		assert.Len(t, memberships, 1)

		stored, err := f.store.GetInvitation(created.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.AcceptedAt)
		assert.Equal(t, "user-linus", stored.AcceptedBy)
	})

	t.Run("single use", func(t *testing.T) {
		_, err := f.svc.Accept(context.Background(), linus, created.ID, token)
		assert.ErrorIs(t, err, ErrInvitationAccepted)
	})
}

func TestInvitationService_AcceptExpired(t *testing.T) {
	f := newInvitationFixture(t)
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := f.svc.Invite(context.Background(), grace, "linus@example.com", "")
	require.NoError(t, err)

	f.now = f.now.Add(InvitationTTL)
	_, err = f.svc.Accept(context.Background(), auth.Principal{UserID: "user-linus"}, created.ID, tokenFrom(t, created.AcceptURL))
	assert.ErrorIs(t, err, ErrInvitationExpired)
}

func TestInvitationService_ListPending(t *testing.T) {
	f := newInvitationFixture(t)
	base := f.now

	require.NoError(t, f.store.SaveInvitation(storage.Invitation{ID: "old", OrgID: "org-1", CreatedAt: base.Add(-time.Hour), ExpiresAt: base.Add(time.Hour)}))
	require.NoError(t, f.store.SaveInvitation(storage.Invitation{ID: "new", OrgID: "org-1", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))
	require.NoError(t, f.store.SaveInvitation(storage.Invitation{ID: "expired", OrgID: "org-1", CreatedAt: base, ExpiresAt: base}))
	accepted := base
	require.NoError(t, f.store.SaveInvitation(storage.Invitation{ID: "used", OrgID: "org-1", CreatedAt: base, ExpiresAt: base.Add(time.Hour), AcceptedAt: &accepted}))
	require.NoError(t, f.store.SaveInvitation(storage.Invitation{ID: "elsewhere", OrgID: "org-2", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}))

	pending, err := f.svc.ListPending(grace)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "new", pending[0].ID)
	assert.Equal(t, "old", pending[1].ID)

	_, err = f.svc.ListPending(ada)
	assert.ErrorIs(t, err, ErrForbidden)
}
