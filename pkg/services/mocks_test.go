package services

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/gateway"
	"github.com/tcmartin/devportal/pkg/mail"
	"github.com/tcmartin/devportal/pkg/storage"
)

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) IssueKey(ctx context.Context, name string) (gateway.IssuedKey, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(gateway.IssuedKey), args.Error(1)
}

func (m *mockIssuer) RevokeKey(ctx context.Context, keyID string) error {
	args := m.Called(ctx, keyID)
	return args.Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// flakyMembers fails AddMember while failures remain, then delegates
type flakyMembers struct {
	*storage.MemoryMembershipStore
	failures int
}

func (m *flakyMembers) AddMember(member storage.Membership) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("db down")
	}
	return m.MemoryMembershipStore.AddMember(member)
}

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) TestConnection(ctx context.Context, provider crm.Provider, creds crm.Credentials) (crm.ConnectionResult, error) {
	args := m.Called(ctx, provider, creds)
	return args.Get(0).(crm.ConnectionResult), args.Error(1)
}

func (m *mockCRM) CheckIntegration(ctx context.Context, integration crm.Integration) (crm.ConnectionResult, error) {
	args := m.Called(ctx, integration)
	return args.Get(0).(crm.ConnectionResult), args.Error(1)
}

func (m *mockCRM) CreateIntegration(ctx context.Context, req crm.CreateIntegrationRequest) (crm.Integration, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(crm.Integration), args.Error(1)
}

func (m *mockCRM) ListIntegrations(ctx context.Context) ([]crm.Integration, error) {
	args := m.Called(ctx)
	return args.Get(0).([]crm.Integration), args.Error(1)
}
