package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/logging"
)

// scheduleParser accepts standard five-field specs, an optional leading
// seconds field, and descriptors such as @every 5m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// IntegrationHealth is the monitor's latest view of every integration
type IntegrationHealth struct {
	CheckedAt time.Time              `json:"checked_at"`
	Results   []crm.ConnectionResult `json:"results"`
}

// IntegrationMonitor periodically re-tests configured CRM integrations
type IntegrationMonitor struct {
	service      crm.Service
	logger       logging.Logger
	checkTimeout time.Duration

	mu        sync.RWMutex
	results   map[string]crm.ConnectionResult
	checkedAt time.Time

	cron *cron.Cron
}

// NewIntegrationMonitor creates a monitor over service
func NewIntegrationMonitor(service crm.Service, logger logging.Logger) *IntegrationMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &IntegrationMonitor{
		service:      service,
		logger:       logger,
		checkTimeout: 15 * time.Second,
		results:      make(map[string]crm.ConnectionResult),
	}
}

// ValidateSchedule reports whether spec is a schedule Start accepts
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", spec, err)
	}
	return nil
}

// Start runs CheckAll on schedule until Stop is called
func (m *IntegrationMonitor) Start(schedule string) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("integration monitor already started")
	}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := m.CheckAll(context.Background()); err != nil {
			m.logger.Warn("integration health check failed", logging.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule integration checks: %w", err)
	}
	c.Start()
	m.cron = c

	m.logger.LogSystemEvent("integration_monitor_started", map[string]interface{}{"schedule": schedule})
	return nil
}

// Stop halts the schedule and waits for a running check to finish or ctx
// to expire
func (m *IntegrationMonitor) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// CheckAll tests every configured integration and records the results
func (m *IntegrationMonitor) CheckAll(ctx context.Context) (IntegrationHealth, error) {
	integrations, err := m.service.ListIntegrations(ctx)
	if err != nil {
		return IntegrationHealth{}, fmt.Errorf("failed to list integrations: %w", err)
	}

	results := make(map[string]crm.ConnectionResult, len(integrations))
	for _, integration := range integrations {
		checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		result, err := m.service.CheckIntegration(checkCtx, integration)
		cancel()
		if err != nil {
			result = crm.ConnectionResult{
				Provider:      integration.Provider,
				IntegrationID: integration.ID,
				Message:       err.Error(),
				CheckedAt:     time.Now().UTC(),
			}
		}
		if !result.Success {
			m.logger.Warn("integration unhealthy",
				logging.F("integration_id", integration.ID),
				logging.F("provider", string(integration.Provider)),
				logging.F("message", result.Message))
		}
		results[integration.ID] = result
	}

	m.mu.Lock()
	m.results = results
	m.checkedAt = time.Now().UTC()
	m.mu.Unlock()

	return m.Health(), nil
}

// Health returns the most recent results ordered by integration ID
func (m *IntegrationMonitor) Health() IntegrationHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := IntegrationHealth{
		CheckedAt: m.checkedAt,
		Results:   make([]crm.ConnectionResult, 0, len(m.results)),
	}
	for _, r := range m.results {
		out.Results = append(out.Results, r)
	}
	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].IntegrationID < out.Results[j].IntegrationID
	})
	return out
}
