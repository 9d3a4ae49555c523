package models

import "time"

// EventType tags the discriminated union carried on the pipeline event stream.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventStatus            EventType = "status"
	EventEmailsFetched     EventType = "emails_fetched"
	EventProcessingEmail   EventType = "processing_email"
	EventCompanyDiscovered EventType = "company_discovered"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
	EventHeartbeat         EventType = "heartbeat"
)

// PipelineEvent is one message on the live sync stream. Which fields are
// populated depends on Type; consumers must tolerate absent fields.
type PipelineEvent struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// emails_fetched
	EmailCount int `json:"emailCount,omitempty"`

	// processing_email
	CurrentEmail int    `json:"currentEmail,omitempty"`
	TotalEmails  int    `json:"totalEmails,omitempty"`
	EmailSubject string `json:"emailSubject,omitempty"`

	// company_discovered
	Company *CompanyDiscovery `json:"company,omitempty"`

	// complete / error
	Stats *RunStats `json:"stats,omitempty"`
}

// CompanyDiscovery is a single company mention surfaced live during a run.
type CompanyDiscovery struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsNew       bool      `json:"isNew"`
	Source      string    `json:"source,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RunStats are the cumulative counters for one pipeline run. All counters are
// non-decreasing within a run.
type RunStats struct {
	EmailsFetched      int     `json:"emailsFetched"`
	CompaniesExtracted int     `json:"companiesExtracted"`
	NewCompanies       int     `json:"newCompanies"`
	TotalMentions      int     `json:"totalMentions"`
	ProcessingRate     float64 `json:"processingRate"`
}

// SyncSnapshot is the status payload returned by the sync endpoints.
type SyncSnapshot struct {
	RunID       string     `json:"runId,omitempty"`
	Status      string     `json:"status"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
	Stats       RunStats   `json:"stats"`
	DataIsFresh bool       `json:"dataIsFresh"`
}
