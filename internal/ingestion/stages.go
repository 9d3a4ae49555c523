package ingestion

import (
	"context"

	"github.com/google/uuid"

	"github.com/substackintel/pipeline/internal/extract"
	"github.com/substackintel/pipeline/internal/store/postgres"
)

// Stage represents a step in the sync pipeline.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *SyncRunContext) error
}

// SyncRunContext carries state through the pipeline stages.
type SyncRunContext struct {
	SyncRunID    uuid.UUID
	Trigger      string
	ForceRefresh bool

	// Set by fetch stage
	Emails []postgres.Email

	// Set by extract stage, keyed by email index
	Extractions []EmailExtraction

	// Counters rolled up into the sync_runs row
	EmailsFetched      int
	CompaniesExtracted int
	NewCompanies       int
	TotalMentions      int
}

// EmailExtraction pairs an email with the mentions pulled out of it.
type EmailExtraction struct {
	Email    postgres.Email
	Mentions []extract.Mention
}
