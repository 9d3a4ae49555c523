// Package syncer implements the client side of the pipeline sync protocol:
// a stream client over the live SSE feed, a pure event reducer, and a
// controller that gates runs, owns the connection lifecycle, and persists
// sync metadata across sessions.
package syncer

import (
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// Status is the current phase of the pipeline run as seen by the client.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusFetching   Status = "fetching"
	StatusExtracting Status = "extracting"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Active reports whether a run is currently in flight.
func (s Status) Active() bool {
	switch s {
	case StatusConnecting, StatusFetching, StatusExtracting, StatusProcessing:
		return true
	}
	return false
}

// Terminal reports whether the run has ended, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Freshness is a coarse staleness classification of the last successful sync.
type Freshness string

const (
	FreshnessFresh    Freshness = "fresh"
	FreshnessStale    Freshness = "stale"
	FreshnessOutdated Freshness = "outdated"
	FreshnessUnknown  Freshness = "unknown"
)

const (
	freshWindow = 30 * time.Minute
	staleWindow = 120 * time.Minute
)

// FreshnessOf classifies lastSync relative to now. A zero lastSync means no
// successful sync has ever been observed.
func FreshnessOf(lastSync, now time.Time) Freshness {
	if lastSync.IsZero() {
		return FreshnessUnknown
	}
	age := now.Sub(lastSync)
	switch {
	case age < freshWindow:
		return FreshnessFresh
	case age < staleWindow:
		return FreshnessStale
	default:
		return FreshnessOutdated
	}
}

// Severity styles an activity entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ActivityEntry is one human-readable status line from the current run.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the single session-scoped aggregate mutated only by the reducer
// and by controller-issued resets. Slices are copy-on-write: the reducer
// never mutates a slice in place, so snapshots handed to subscribers are
// safe to read concurrently.
type State struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`

	Metrics models.RunStats `json:"metrics"`

	CurrentEmail           int `json:"currentEmail"`
	TotalEmails            int `json:"totalEmails"`
	EstimatedTimeRemaining int `json:"estimatedTimeRemaining"` // seconds

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	RecentDiscoveries []models.CompanyDiscovery `json:"recentDiscoveries"`
	ActivityLog       []ActivityEntry           `json:"activityLog"`

	IsConnected     bool   `json:"isConnected"`
	ConnectionError string `json:"connectionError"`

	LastSyncTime    time.Time `json:"lastSyncTime"`
	LastSyncSuccess bool      `json:"lastSyncSuccess"`
	DataFreshness   Freshness `json:"dataFreshness"`
}

// NewState returns the session defaults: idle, zero progress, freshness
// unknown until a sync or a rehydrated snapshot says otherwise.
func NewState() State {
	return State{
		Status:        StatusIdle,
		DataFreshness: FreshnessUnknown,
	}
}

// resetRun clears the run-scoped fields at the start of a new run. Persisted
// fields (lastSyncTime, freshness) and transport state are untouched.
func (s *State) resetRun(now time.Time) {
	s.Status = StatusConnecting
	s.Progress = 0
	s.Message = "Starting pipeline..."
	s.Metrics = models.RunStats{}
	s.CurrentEmail = 0
	s.TotalEmails = 0
	s.EstimatedTimeRemaining = 0
	s.StartTime = now
	s.EndTime = time.Time{}
	s.RecentDiscoveries = nil
	s.ActivityLog = nil
	s.ConnectionError = ""
}
