package ingestion

import (
	"context"
	"fmt"

	"github.com/substackintel/pipeline/internal/store"
	"github.com/substackintel/pipeline/pkg/models"
)

// FetchStage loads the batch of unprocessed newsletter emails for this run.
// Gmail ingestion happens upstream; by the time a sync runs, raw issues are
// already rows in the emails table.
type FetchStage struct {
	store     *store.Store
	events    *EventPublisher
	batchSize int32
}

func NewFetchStage(s *store.Store, events *EventPublisher, batchSize int32) *FetchStage {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &FetchStage{store: s, events: events, batchSize: batchSize}
}

func (s *FetchStage) Name() string { return "fetch" }

func (s *FetchStage) Execute(ctx context.Context, rc *SyncRunContext) error {
	s.events.Publish(ctx, models.PipelineEvent{
		Type:    models.EventStatus,
		RunID:   rc.SyncRunID.String(),
		Status:  "fetching",
		Message: "Fetching newsletter emails...",
	})

	emails, err := s.store.ListUnprocessedEmails(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed emails: %w", err)
	}

	rc.Emails = emails
	rc.EmailsFetched = len(emails)

	s.events.Publish(ctx, models.PipelineEvent{
		Type:       models.EventEmailsFetched,
		RunID:      rc.SyncRunID.String(),
		EmailCount: len(emails),
		Progress:   10,
		Message:    fmt.Sprintf("Fetched %d emails", len(emails)),
	})
	return nil
}
