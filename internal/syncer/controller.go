package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// startFreshWindow short-circuits a manual start when the last successful
// sync is this recent.
const startFreshWindow = 5 * time.Minute

// Notifier receives user-visible notices (the toast surface).
type Notifier func(Severity, string)

// Controller gates and sequences pipeline runs. It owns the stream client's
// lifecycle, is the only writer of the session State (via the reducer and
// explicit resets), and fans snapshots out to subscribers.
type Controller struct {
	logger *slog.Logger
	api    *APIClient
	stream *StreamClient
	file   *StateFile
	now    func() time.Time
	notify Notifier

	resetGrace   time.Duration // 0 means use the reducer's grace
	streamPolicy ReconnectPolicy

	mu         sync.Mutex
	state      State
	starting   bool // in-flight guard for StartPipeline, claimed before any async step
	checking   bool // in-flight guard for CheckDataFreshness
	autoSync   bool
	resetTimer *time.Timer
	subs       map[int]func(State)
	nextSub    int
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option      { return func(c *Controller) { c.logger = l } }
func WithStateFile(f *StateFile) Option     { return func(c *Controller) { c.file = f } }
func WithNotifier(n Notifier) Option        { return func(c *Controller) { c.notify = n } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }
func WithResetGrace(d time.Duration) Option { return func(c *Controller) { c.resetGrace = d } }

// WithHTTPClient replaces the client used for both the API and the stream.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) { c.api = NewAPIClient(c.api.baseURL, hc) }
}

// WithReconnectPolicy overrides the stream retry schedule.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Controller) { c.streamPolicy = p }
}

// NewController builds a controller against the given API base URL,
// rehydrating persisted sync metadata when a state file is configured.
func NewController(baseURL string, opts ...Option) *Controller {
	c := &Controller{
		logger:       slog.Default(),
		api:          NewAPIClient(baseURL, nil),
		now:          time.Now,
		state:        NewState(),
		subs:         map[int]func(State){},
		streamPolicy: DefaultReconnectPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notify == nil {
		logger := c.logger
		c.notify = func(sev Severity, msg string) {
			logger.Info("notice", slog.String("severity", string(sev)), slog.String("message", msg))
		}
	}

	if c.file != nil {
		if snap, ok := c.file.Load(); ok {
			snap.apply(&c.state, c.now())
		}
	}

	c.stream = NewStreamClient(c.api.StreamURL(), c.api.httpc, c.streamPolicy,
		c.logger, c.handleEvent, c.handleConnState)
	return c
}

// StartPipeline triggers a new run. It is a notified no-op when a start is
// already in flight, a run is active, or the data is fresh enough.
func (c *Controller) StartPipeline(ctx context.Context) error {
	return c.start(ctx, false)
}

// ForceSync bypasses the freshness short-circuit on both client and server.
func (c *Controller) ForceSync(ctx context.Context) error {
	return c.start(ctx, true)
}

func (c *Controller) start(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		c.notify(SeverityInfo, "A sync is already starting")
		return nil
	}
	if c.state.Status.Active() {
		c.mu.Unlock()
		c.notify(SeverityInfo, "Pipeline is already running")
		return nil
	}
	if !force && !c.state.LastSyncTime.IsZero() &&
		c.now().Sub(c.state.LastSyncTime) < startFreshWindow {
		c.mu.Unlock()
		c.notify(SeverityInfo, "Data is fresh, skipping sync")
		return nil
	}

	// Claimed before any asynchronous step; released on every exit path.
	c.starting = true
	c.stopResetLocked()
	c.state.resetRun(c.now())
	c.state.ActivityLog = pushActivity(c.state.ActivityLog, SeverityInfo, "Pipeline starting", c.now())
	snap := c.state
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	c.publish(snap)
	c.stream.Connect()

	resp, err := c.api.TriggerSync(ctx, force)
	if err != nil {
		c.stream.Disconnect()
		c.failRun("Failed to start pipeline")
		return fmt.Errorf("trigger pipeline: %w", err)
	}
	if resp.Skipped {
		c.stream.Disconnect()
		c.mu.Lock()
		c.state.Status = StatusIdle
		c.state.Message = "Sync skipped, data is fresh"
		snap = c.state
		c.mu.Unlock()
		c.publish(snap)
		c.notify(SeverityInfo, "Sync skipped, data is fresh")
	}
	return nil
}

// failRun marks the session failed when the trigger request itself errors.
// Not retried automatically; the user must start again.
func (c *Controller) failRun(msg string) {
	c.mu.Lock()
	c.state.Status = StatusError
	c.state.EndTime = c.now()
	c.state.LastSyncSuccess = false
	c.state.Message = msg
	c.state.ActivityLog = pushActivity(c.state.ActivityLog, SeverityError, msg, c.now())
	c.stopResetLocked()
	c.resetTimer = time.AfterFunc(c.graceOr(ResetGrace), c.resetToIdle)
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
	c.notify(SeverityError, msg)
}

func (c *Controller) graceOr(d time.Duration) time.Duration {
	if c.resetGrace > 0 {
		return c.resetGrace
	}
	return d
}

// StopPipeline tears the run down: disconnects the stream, forces idle, and
// stamps the end time.
func (c *Controller) StopPipeline() {
	c.stream.Disconnect()

	c.mu.Lock()
	c.stopResetLocked()
	c.state.Status = StatusIdle
	c.state.EndTime = c.now()
	c.state.Message = "Pipeline stopped"
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
}

// CheckDataFreshness refetches last-sync metadata and reclassifies
// freshness. Overlapping checks are collapsed by an in-flight flag.
func (c *Controller) CheckDataFreshness(ctx context.Context) error {
	c.mu.Lock()
	if c.checking {
		c.mu.Unlock()
		return nil
	}
	c.checking = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.checking = false
		c.mu.Unlock()
	}()

	status, err := c.api.SyncStatus(ctx)
	if err != nil {
		c.logger.Warn("freshness check failed", slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	if status.Data.LastSync != nil {
		c.state.LastSyncTime = *status.Data.LastSync
	}
	c.state.DataFreshness = FreshnessOf(c.state.LastSyncTime, c.now())
	snap := c.state
	c.mu.Unlock()

	if c.file != nil {
		c.file.Save(snap)
	}
	c.publish(snap)
	return nil
}

// SetAutoSync toggles the background auto-sync loop's willingness to start
// runs. The loop itself is driven by RunAutoSync.
func (c *Controller) SetAutoSync(enabled bool) {
	c.mu.Lock()
	c.autoSync = enabled
	c.mu.Unlock()
}

// RunAutoSync periodically reclassifies freshness and starts a run when
// auto-sync is enabled, data is not fresh, and nothing is active. Blocks
// until ctx is cancelled.
func (c *Controller) RunAutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		enabled := c.autoSync
		fresh := FreshnessOf(c.state.LastSyncTime, c.now())
		c.state.DataFreshness = fresh
		active := c.starting || c.state.Status.Active()
		snap := c.state
		c.mu.Unlock()
		c.publish(snap)

		if enabled && fresh != FreshnessFresh && !active {
			_ = c.StartPipeline(ctx)
		}
	}
}

// Subscribe registers a snapshot listener and returns its cancel func.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// handleEvent reduces one stream event into the session state and runs the
// resulting effects. Called from the stream's single reader goroutine, so
// events are reduced in arrival order.
func (c *Controller) handleEvent(ev models.PipelineEvent) {
	c.mu.Lock()
	next, effects := Reduce(c.state, ev, c.now())
	c.state = next
	snap := next
	c.mu.Unlock()

	c.publish(snap)
	c.runEffects(snap, effects)
}

func (c *Controller) handleConnState(connected bool, errMsg string) {
	c.mu.Lock()
	c.state.IsConnected = connected
	if errMsg != "" || connected {
		c.state.ConnectionError = errMsg
	}
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Controller) runEffects(snap State, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case EffectPersist:
			if c.file != nil {
				c.file.Save(snap)
			}
		case EffectNotify:
			c.notify(e.Severity, e.Message)
		case EffectDisconnect:
			c.stream.Disconnect()
		case EffectScheduleReset:
			c.mu.Lock()
			c.stopResetLocked()
			c.resetTimer = time.AfterFunc(c.graceOr(e.After), c.resetToIdle)
			c.mu.Unlock()
		}
	}
}

// resetToIdle clears the terminal complete/error display state after the
// grace window.
func (c *Controller) resetToIdle() {
	c.mu.Lock()
	if !c.state.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state.Status = StatusIdle
	c.state.Progress = 0
	c.state.Message = ""
	snap := c.state
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Controller) stopResetLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *Controller) publish(snap State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
