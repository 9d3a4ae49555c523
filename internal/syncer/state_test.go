package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFreshnessOf(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastSync time.Time
		want     Freshness
	}{
		{"never synced", time.Time{}, FreshnessUnknown},
		{"just now", now, FreshnessFresh},
		{"29 minutes", now.Add(-29 * time.Minute), FreshnessFresh},
		{"exactly 30 minutes", now.Add(-30 * time.Minute), FreshnessStale},
		{"90 minutes", now.Add(-90 * time.Minute), FreshnessStale},
		{"exactly 120 minutes", now.Add(-120 * time.Minute), FreshnessOutdated},
		{"a week", now.Add(-7 * 24 * time.Hour), FreshnessOutdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FreshnessOf(tt.lastSync, now))
		})
	}
}

func TestStatusActiveTerminal(t *testing.T) {
	active := []Status{StatusConnecting, StatusFetching, StatusExtracting, StatusProcessing}
	for _, s := range active {
		assert.True(t, s.Active(), "%s should be active", s)
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}

	terminal := []Status{StatusComplete, StatusError}
	for _, s := range terminal {
		assert.False(t, s.Active(), "%s should not be active", s)
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	assert.False(t, StatusIdle.Active())
	assert.False(t, StatusIdle.Terminal())
}

func TestResetRunPreservesPersistedFields(t *testing.T) {
	now := time.Now()
	s := NewState()
	s.LastSyncTime = now.Add(-time.Hour)
	s.LastSyncSuccess = true
	s.DataFreshness = FreshnessStale
	s.IsConnected = true
	s.Progress = 80
	s.Message = "old"
	s.ActivityLog = []ActivityEntry{{Message: "old entry"}}

	s.resetRun(now)

	assert.Equal(t, StatusConnecting, s.Status)
	assert.Equal(t, 0, s.Progress)
	assert.Empty(t, s.ActivityLog)
	assert.Equal(t, now, s.StartTime)
	assert.True(t, s.EndTime.IsZero())

	// Cross-session metadata survives the reset.
	assert.Equal(t, now.Add(-time.Hour), s.LastSyncTime)
	assert.True(t, s.LastSyncSuccess)
	assert.Equal(t, FreshnessStale, s.DataFreshness)
	assert.True(t, s.IsConnected)
}
