package syncer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// connLostMessage is surfaced while the client retries in the background.
const connLostMessage = "Connection lost. Reconnecting..."

// connDeadMessage is the terminal error after the retry budget is spent.
const connDeadMessage = "Connection lost. Unable to reconnect."

// StreamClient maintains at most one live SSE connection to the pipeline
// event stream. Connect supersedes any prior connection; transport failures
// reconnect under the ReconnectPolicy. Events are delivered in arrival order
// from a single reader goroutine.
type StreamClient struct {
	url    string
	httpc  *http.Client
	policy ReconnectPolicy
	logger *slog.Logger

	onEvent     func(models.PipelineEvent)
	onConnState func(connected bool, errMsg string)

	mu        sync.Mutex
	cancel    context.CancelFunc
	gen       uint64 // connection generation; stale readers see a mismatch and exit
	attempt   int
	reconnect *time.Timer
}

// NewStreamClient wires a client for the given stream URL. onEvent receives
// every business event (heartbeats are consumed at the transport layer);
// onConnState reports transport status changes.
func NewStreamClient(url string, httpc *http.Client, policy ReconnectPolicy, logger *slog.Logger,
	onEvent func(models.PipelineEvent), onConnState func(bool, string)) *StreamClient {
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamClient{
		url:         url,
		httpc:       httpc,
		policy:      policy,
		logger:      logger,
		onEvent:     onEvent,
		onConnState: onConnState,
	}
}

// Connect opens a new stream connection, closing any existing one first.
// Idempotent: calling it twice leaves exactly one connection open. The
// reconnect attempt counter is reset only on a successful open.
func (c *StreamClient) Connect() {
	c.mu.Lock()
	c.closeLocked()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.onConnState(false, "")
	go c.run(ctx, gen)
}

// Disconnect closes the connection and cancels any pending reconnect.
// Safe to call when already disconnected.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	c.closeLocked()
	c.gen++
	c.attempt = 0
	c.mu.Unlock()

	c.onConnState(false, "")
}

// closeLocked cancels the active reader and stops a pending reconnect timer.
func (c *StreamClient) closeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *StreamClient) run(ctx context.Context, gen uint64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.handleFailure(gen, fmt.Errorf("build stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.handleFailure(gen, fmt.Errorf("open stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.handleFailure(gen, fmt.Errorf("open stream: HTTP %d", resp.StatusCode))
		return
	}

	if !c.markOpen(gen) {
		return // superseded while dialing
	}
	c.onConnState(true, "")

	// SSE framing: "data:" lines accumulate until a blank line ends the
	// event. Comment lines (":") and unknown fields are ignored.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(payload)
		}
	}

	if ctx.Err() != nil {
		return // deliberate disconnect
	}
	c.handleFailure(gen, fmt.Errorf("stream closed: %w", scanner.Err()))
}

// dispatch parses one SSE payload and forwards it. Malformed payloads are
// logged and dropped; heartbeats are acknowledged here and never forwarded.
func (c *StreamClient) dispatch(raw string) {
	var ev models.PipelineEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		c.logger.Warn("dropping malformed stream event", slog.String("error", err.Error()))
		return
	}
	if ev.Type == models.EventHeartbeat {
		return
	}
	c.onEvent(ev)
}

// markOpen resets the attempt counter if this connection is still current.
func (c *StreamClient) markOpen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.attempt = 0
	return true
}

// handleFailure schedules a backoff reconnect for the current generation, or
// reports a terminal connection error once the retry budget is exhausted.
func (c *StreamClient) handleFailure(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return // superseded by a newer Connect/Disconnect
	}

	if c.policy.Exhausted(c.attempt) {
		c.mu.Unlock()
		c.logger.Error("stream reconnect attempts exhausted", slog.String("error", err.Error()))
		c.onConnState(false, connDeadMessage)
		return
	}

	delay := c.policy.Delay(c.attempt)
	c.attempt++
	c.reconnect = time.AfterFunc(delay, c.redial)
	attempt := c.attempt
	c.mu.Unlock()

	c.logger.Warn("stream connection lost, reconnecting",
		slog.String("error", err.Error()),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	c.onConnState(false, connLostMessage)
}

// redial reopens the stream without resetting the attempt counter.
func (c *StreamClient) redial() {
	c.mu.Lock()
	c.closeLocked()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, gen)
}
