package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/devportal/pkg/crm"
)

func TestIntegrationMonitor_CheckAll(t *testing.T) {
	service := &mockCRM{}
	hubspot := crm.Integration{ID: "int-b", Provider: crm.HubSpot}
	dynamics := crm.Integration{ID: "int-a", Provider: crm.Dynamics}

	service.On("ListIntegrations", mock.Anything).Return([]crm.Integration{hubspot, dynamics}, nil)
	service.On("CheckIntegration", mock.Anything, hubspot).
		Return(crm.ConnectionResult{Provider: crm.HubSpot, IntegrationID: "int-b", Success: true}, nil)
	service.On("CheckIntegration", mock.Anything, dynamics).
		Return(crm.ConnectionResult{}, errors.New("backend unavailable"))

	monitor := NewIntegrationMonitor(service, nil)
	health, err := monitor.CheckAll(context.Background())
	require.NoError(t, err)

	require.Len(t, health.Results, 2)
	assert.Equal(t, "int-a", health.Results[0].IntegrationID)
	assert.False(t, health.Results[0].Success)
	assert.Equal(t, "backend unavailable", health.Results[0].Message)
	assert.Equal(t, crm.Dynamics, health.Results[0].Provider)
	assert.True(t, health.Results[1].Success)
	assert.False(t, health.CheckedAt.IsZero())

	assert.Equal(t, health, monitor.Health())
	service.AssertExpectations(t)
}

func TestIntegrationMonitor_ListFailureKeepsPreviousResults(t *testing.T) {
	service := &mockCRM{}
	integration := crm.Integration{ID: "int-1", Provider: crm.LinkedIn}
	service.On("ListIntegrations", mock.Anything).Return([]crm.Integration{integration}, nil).Once()
	service.On("ListIntegrations", mock.Anything).Return([]crm.Integration(nil), errors.New("down")).Once()
	service.On("CheckIntegration", mock.Anything, integration).
		Return(crm.ConnectionResult{IntegrationID: "int-1", Success: true}, nil)

	monitor := NewIntegrationMonitor(service, nil)
	_, err := monitor.CheckAll(context.Background())
	require.NoError(t, err)

	_, err = monitor.CheckAll(context.Background())
	assert.Error(t, err)
	assert.Len(t, monitor.Health().Results, 1)
}

func TestIntegrationMonitor_Schedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("@every 30s"))
	assert.NoError(t, ValidateSchedule("0 */5 * * * *"))
	assert.Error(t, ValidateSchedule("every five minutes"))

	service := &mockCRM{}
	service.On("ListIntegrations", mock.Anything).Return([]crm.Integration{}, nil)

	monitor := NewIntegrationMonitor(service, nil)
	require.NoError(t, monitor.Start("@every 1s"))
	assert.Error(t, monitor.Start("@every 1s"))

	require.Eventually(t, func() bool {
		return !monitor.Health().CheckedAt.IsZero()
	}, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	monitor.Stop(ctx)
	monitor.Stop(ctx)
}
