package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/substackintel/pipeline/pkg/apierr"
	"github.com/substackintel/pipeline/pkg/models"
)

// EventTail delivers pipeline events published after subscription, in order.
type EventTail interface {
	Tail(ctx context.Context, handler func(models.PipelineEvent) error) error
}

// StreamHandler relays pipeline events to the browser as Server-Sent Events:
// one JSON object per "data:" frame, a connected event on open, and periodic
// heartbeats so proxies keep the connection alive.
type StreamHandler struct {
	logger    *slog.Logger
	events    EventTail
	heartbeat time.Duration
}

func NewStreamHandler(logger *slog.Logger, events EventTail, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{logger: logger, events: events, heartbeat: heartbeat}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, h.logger, apierr.StreamNotFlushable())
		return
	}
	if h.events == nil {
		writeAPIError(w, h.logger, apierr.StreamUnavailable(errors.New("event bus not configured")))
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}
	if err := sw.writeEvent(models.PipelineEvent{Type: models.EventConnected}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Heartbeats and tailed events share the writer; the tail goroutine owns
	// delivery order for business events, heartbeats are transport-only.
	writes := make(chan models.PipelineEvent, 16)

	go func() {
		defer cancel()
		err := h.events.Tail(ctx, func(ev models.PipelineEvent) error {
			select {
			case writes <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("event tail ended", slog.String("error", err.Error()))
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.writeEvent(models.PipelineEvent{Type: models.EventHeartbeat}); err != nil {
				return
			}
		case ev := <-writes:
			if err := sw.writeEvent(ev); err != nil {
				return
			}
		}
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// writeEvent serializes the event as one SSE data frame and flushes so the
// client receives it immediately.
func (sw *sseWriter) writeEvent(ev models.PipelineEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	sw.flusher.Flush()
	return nil
}
