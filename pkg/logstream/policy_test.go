package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicy_Delay(t *testing.T) {
	p := DefaultReconnectPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{200, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestReconnectPolicy_CanRetry(t *testing.T) {
	p := DefaultReconnectPolicy()
	for attempt := 0; attempt < 5; attempt++ {
		assert.True(t, p.CanRetry(attempt))
	}
	assert.False(t, p.CanRetry(5))
	assert.False(t, p.CanRetry(6))
}

func TestReconnectPolicy_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultReconnectPolicy(), ReconnectPolicy{}.withDefaults())

	p := ReconnectPolicy{MaxAttempts: 2}.withDefaults()
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2, p.MaxAttempts)

	p = ReconnectPolicy{BaseDelay: 10 * time.Millisecond, MaxAttempts: -3}.withDefaults()
	assert.Equal(t, 10*time.Millisecond, p.BaseDelay)
	assert.False(t, p.CanRetry(0))
}
