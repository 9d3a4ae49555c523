package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/substackintel/pipeline/internal/store"
	"github.com/substackintel/pipeline/internal/store/postgres"
	"github.com/substackintel/pipeline/pkg/models"
)

// Pipeline orchestrates the sync stages for each queued job: fetch emails,
// extract companies, persist mentions. Run status and stats live on the
// sync_runs row; live progress goes out over the event stream.
type Pipeline struct {
	store  *store.Store
	events *EventPublisher
	stages []Stage
	logger *slog.Logger
}

func NewPipeline(s *store.Store, events *EventPublisher, stages []Stage, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: s, events: events, stages: stages, logger: logger}
}

// Run processes a single sync job end to end.
func (p *Pipeline) Run(ctx context.Context, msg SyncMessage) error {
	started := time.Now()

	p.logger.Info("pipeline started",
		slog.String("sync_run_id", msg.SyncRunID.String()),
		slog.String("trigger", msg.Trigger))

	if err := p.store.UpdateSyncRunStatus(ctx, postgres.UpdateSyncRunStatusParams{
		ID:     msg.SyncRunID,
		Status: "running",
	}); err != nil {
		return fmt.Errorf("update status to running: %w", err)
	}

	rc := &SyncRunContext{
		SyncRunID:    msg.SyncRunID,
		Trigger:      msg.Trigger,
		ForceRefresh: msg.ForceRefresh,
	}

	for _, stage := range p.stages {
		p.logger.Info("stage started",
			slog.String("stage", stage.Name()),
			slog.String("sync_run_id", msg.SyncRunID.String()))

		if err := stage.Execute(ctx, rc); err != nil {
			errMsg := err.Error()
			_ = p.store.UpdateSyncRunStatus(ctx, postgres.UpdateSyncRunStatusParams{
				ID:           msg.SyncRunID,
				Status:       "failed",
				ErrorMessage: &errMsg,
			})
			p.events.Publish(ctx, models.PipelineEvent{
				Type:    models.EventError,
				RunID:   msg.SyncRunID.String(),
				Message: fmt.Sprintf("Pipeline failed during %s", stage.Name()),
			})
			return fmt.Errorf("stage %s failed: %w", stage.Name(), err)
		}

		p.logger.Info("stage completed",
			slog.String("stage", stage.Name()),
			slog.String("sync_run_id", msg.SyncRunID.String()))
	}

	stats := rc.finalStats(time.Since(started))

	if err := p.store.UpdateSyncRunStats(ctx, postgres.UpdateSyncRunStatsParams{
		ID:                 msg.SyncRunID,
		EmailsFetched:      int32(rc.EmailsFetched),
		CompaniesExtracted: int32(rc.CompaniesExtracted),
		NewCompanies:       int32(rc.NewCompanies),
		TotalMentions:      int32(rc.TotalMentions),
	}); err != nil {
		return fmt.Errorf("update run stats: %w", err)
	}

	if err := p.store.UpdateSyncRunStatus(ctx, postgres.UpdateSyncRunStatusParams{
		ID:     msg.SyncRunID,
		Status: "completed",
	}); err != nil {
		return fmt.Errorf("update status to completed: %w", err)
	}

	p.events.Publish(ctx, models.PipelineEvent{
		Type:     models.EventComplete,
		RunID:    msg.SyncRunID.String(),
		Progress: 100,
		Message:  "Pipeline completed",
		Stats:    &stats,
	})

	p.logger.Info("pipeline completed",
		slog.String("sync_run_id", msg.SyncRunID.String()),
		slog.Int("emails", rc.EmailsFetched),
		slog.Int("companies", rc.CompaniesExtracted),
		slog.Int("mentions", rc.TotalMentions))

	return nil
}

// finalStats rolls the run counters into the wire shape for the complete
// event and the status endpoint.
func (rc *SyncRunContext) finalStats(elapsed time.Duration) models.RunStats {
	stats := models.RunStats{
		EmailsFetched:      rc.EmailsFetched,
		CompaniesExtracted: rc.CompaniesExtracted,
		NewCompanies:       rc.NewCompanies,
		TotalMentions:      rc.TotalMentions,
	}
	if minutes := elapsed.Minutes(); minutes > 0 && rc.EmailsFetched > 0 {
		stats.ProcessingRate = math.Round(float64(rc.EmailsFetched) / minutes)
	}
	return stats
}
