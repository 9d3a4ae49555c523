package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/substackintel/pipeline/pkg/models"
)

const (
	// EventStream carries live run progress for the SSE relay.
	EventStream = "intel:sync:events"
	// eventStreamMaxLen bounds the stream; the relay only tails new entries.
	eventStreamMaxLen = 1000
)

// EventPublisher appends pipeline events to the Valkey event stream. The API
// relays them to browsers over SSE; losing one is harmless since state is
// also persisted on the sync_runs row.
type EventPublisher struct {
	client valkey.Client
	logger *slog.Logger
}

func NewEventPublisher(client valkey.Client, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{client: client, logger: logger}
}

// Publish appends one event. Failures are logged, never fatal to the run.
func (p *EventPublisher) Publish(ctx context.Context, ev models.PipelineEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal pipeline event", slog.String("error", err.Error()))
		return
	}

	resp := p.client.Do(ctx, p.client.B().Xadd().
		Key(EventStream).
		Maxlen().Almost().Threshold(strconv.Itoa(eventStreamMaxLen)).
		Id("*").
		FieldValue().FieldValue("data", string(data)).
		Build())
	if err := resp.Error(); err != nil {
		p.logger.Warn("publish pipeline event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}

// EventSubscriber tails the event stream from "now" onward.
type EventSubscriber struct {
	client valkey.Client
}

func NewEventSubscriber(client valkey.Client) *EventSubscriber {
	return &EventSubscriber{client: client}
}

// Tail blocks reading new events and forwards each to handler. Returns when
// ctx is cancelled. Entries older than the subscription are never delivered.
func (s *EventSubscriber) Tail(ctx context.Context, handler func(models.PipelineEvent) error) error {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp := s.client.Do(ctx, s.client.B().Xread().
			Count(64).Block(5000).
			Streams().Key(EventStream).Id(lastID).
			Build())

		if err := resp.Error(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if valkey.IsValkeyNil(err) {
				// BLOCK timeout with no new entries
				continue
			}
			return fmt.Errorf("xread events: %w", err)
		}

		results, err := resp.AsXRead()
		if err != nil {
			continue
		}

		for _, messages := range results {
			for _, msg := range messages {
				lastID = msg.ID
				data, ok := msg.FieldValues["data"]
				if !ok {
					continue
				}
				var ev models.PipelineEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					continue
				}
				if err := handler(ev); err != nil {
					return err
				}
			}
		}
	}
}
