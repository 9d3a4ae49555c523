package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/substackintel/pipeline/internal/extract"
	"github.com/substackintel/pipeline/internal/newsletter"
	"github.com/substackintel/pipeline/internal/store/postgres"
	"github.com/substackintel/pipeline/pkg/models"
)

// Extractor is the LLM-backed mention extraction service.
type Extractor interface {
	ExtractMentions(ctx context.Context, newsletter, text string) ([]extract.Mention, error)
}

// ExtractStage cleans each email body and runs company extraction with
// bounded parallelism. A single email failing extraction degrades to an
// empty mention list rather than failing the whole run.
type ExtractStage struct {
	extractor   Extractor
	events      *EventPublisher
	logger      *slog.Logger
	concurrency int
}

func NewExtractStage(extractor Extractor, events *EventPublisher, logger *slog.Logger, concurrency int) *ExtractStage {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ExtractStage{extractor: extractor, events: events, logger: logger, concurrency: concurrency}
}

func (s *ExtractStage) Name() string { return "extract" }

func (s *ExtractStage) Execute(ctx context.Context, rc *SyncRunContext) error {
	total := len(rc.Emails)
	if total == 0 {
		return nil
	}

	s.events.Publish(ctx, models.PipelineEvent{
		Type:    models.EventStatus,
		RunID:   rc.SyncRunID.String(),
		Status:  "extracting",
		Message: fmt.Sprintf("Extracting companies from %d emails...", total),
	})

	extractions := make([]EmailExtraction, total)

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, email := range rc.Emails {
		g.Go(func() error {
			mentions := s.extractOne(gctx, email)
			extractions[i] = EmailExtraction{Email: email, Mentions: mentions}

			mu.Lock()
			done++
			current := done
			mu.Unlock()

			s.events.Publish(gctx, models.PipelineEvent{
				Type:         models.EventProcessingEmail,
				RunID:        rc.SyncRunID.String(),
				CurrentEmail: current,
				TotalEmails:  total,
				EmailSubject: email.Subject,
				Message:      fmt.Sprintf("Processing %q", email.Subject),
			})
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("extract emails: %w", err)
	}

	rc.Extractions = extractions
	return nil
}

func (s *ExtractStage) extractOne(ctx context.Context, email postgres.Email) []extract.Mention {
	text, err := newsletter.CleanHTML(email.BodyHTML)
	if err != nil || text == "" {
		s.logger.Warn("email body unusable, skipping extraction",
			slog.String("email_id", email.ID.String()),
			slog.String("subject", email.Subject))
		return nil
	}

	mentions, err := s.extractor.ExtractMentions(ctx, email.Newsletter, text)
	if err != nil {
		s.logger.Error("extraction failed for email",
			slog.String("email_id", email.ID.String()),
			slog.String("error", err.Error()))
		return nil
	}
	return mentions
}
