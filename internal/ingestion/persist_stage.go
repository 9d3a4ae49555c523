package ingestion

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/substackintel/pipeline/internal/store"
	"github.com/substackintel/pipeline/internal/store/postgres"
	"github.com/substackintel/pipeline/pkg/models"
)

// PersistStage upserts discovered companies, records mentions, and marks
// emails processed. Discoveries are published as they land so the live feed
// shows them with the authoritative isNew flag from the upsert.
type PersistStage struct {
	store  *store.Store
	events *EventPublisher
}

func NewPersistStage(s *store.Store, events *EventPublisher) *PersistStage {
	return &PersistStage{store: s, events: events}
}

func (s *PersistStage) Name() string { return "sync" }

func (s *PersistStage) Execute(ctx context.Context, rc *SyncRunContext) error {
	s.events.Publish(ctx, models.PipelineEvent{
		Type:    models.EventStatus,
		RunID:   rc.SyncRunID.String(),
		Status:  "processing",
		Message: "Syncing intelligence data...",
	})

	seenCompanies := map[uuid.UUID]struct{}{}

	for _, ex := range rc.Extractions {
		var discovered []models.PipelineEvent

		err := s.store.WithTx(ctx, func(q *postgres.Queries) error {
			for _, m := range ex.Mentions {
				company, isNew, err := q.UpsertCompany(ctx, postgres.UpsertCompanyParams{
					Name:        m.Name,
					Description: m.Description,
				})
				if err != nil {
					return fmt.Errorf("upsert company %q: %w", m.Name, err)
				}

				if _, err := q.CreateMention(ctx, postgres.CreateMentionParams{
					CompanyID:  company.ID,
					EmailID:    ex.Email.ID,
					Context:    m.Context,
					Sentiment:  m.Sentiment,
					Confidence: m.Confidence,
				}); err != nil {
					return fmt.Errorf("create mention for %q: %w", m.Name, err)
				}

				rc.TotalMentions++
				if _, seen := seenCompanies[company.ID]; !seen {
					seenCompanies[company.ID] = struct{}{}
					rc.CompaniesExtracted++
				}
				if isNew {
					rc.NewCompanies++
				}

				discovered = append(discovered, models.PipelineEvent{
					Type:  models.EventCompanyDiscovered,
					RunID: rc.SyncRunID.String(),
					Company: &models.CompanyDiscovery{
						Name:        company.Name,
						Description: company.Description,
						IsNew:       isNew,
						Source:      ex.Email.Newsletter,
					},
				})
			}

			return q.MarkEmailProcessed(ctx, ex.Email.ID)
		})
		if err != nil {
			return fmt.Errorf("persist email %s: %w", ex.Email.ID, err)
		}

		// Publish only after the transaction committed.
		for _, ev := range discovered {
			s.events.Publish(ctx, ev)
		}
	}

	return nil
}
