package postgres

import (
	"time"

	"github.com/google/uuid"
)

// SyncRun is one execution of the ingestion pipeline, from trigger to a
// terminal completed/failed status.
type SyncRun struct {
	ID                 uuid.UUID  `json:"id"`
	Status             string     `json:"status"`
	Trigger            string     `json:"trigger"`
	EmailsFetched      int32      `json:"emails_fetched"`
	CompaniesExtracted int32      `json:"companies_extracted"`
	NewCompanies       int32      `json:"new_companies"`
	TotalMentions      int32      `json:"total_mentions"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Email is an ingested newsletter issue awaiting or finished extraction.
type Email struct {
	ID          uuid.UUID  `json:"id"`
	Newsletter  string     `json:"newsletter"`
	Subject     string     `json:"subject"`
	Sender      string     `json:"sender"`
	BodyHTML    string     `json:"body_html"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Company is an entity mentioned in at least one newsletter.
type Company struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	MentionCount int32     `json:"mention_count"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Mention links a company to the email it was extracted from.
type Mention struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  uuid.UUID `json:"company_id"`
	EmailID    uuid.UUID `json:"email_id"`
	Context    string    `json:"context"`
	Sentiment  string    `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PipelineStats aggregates sync metadata for the status endpoint.
type PipelineStats struct {
	TotalEmails    int64 `json:"total_emails"`
	TotalCompanies int64 `json:"total_companies"`
	TotalMentions  int64 `json:"total_mentions"`
}
