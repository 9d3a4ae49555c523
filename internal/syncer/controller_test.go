package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substackintel/pipeline/pkg/models"
)

// pipelineServer fakes the API surface the controller talks to: the trigger
// endpoint and the SSE stream.
type pipelineServer struct {
	srv         *httptest.Server
	triggers    atomic.Int64
	streamConns atomic.Int64

	mu     sync.Mutex
	frames []string // SSE payloads replayed to every stream connection
}

func newPipelineServer(frames ...string) *pipelineServer {
	ps := &pipelineServer{frames: frames}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline/sync", func(w http.ResponseWriter, r *http.Request) {
		ps.triggers.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":{"status":"running"}}`)
	})
	mux.HandleFunc("GET /api/pipeline/sync/stream", func(w http.ResponseWriter, r *http.Request) {
		ps.streamConns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		ps.mu.Lock()
		frames := append([]string(nil), ps.frames...)
		ps.mu.Unlock()
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
		<-r.Context().Done()
	})
	ps.srv = httptest.NewServer(mux)
	return ps
}

func (ps *pipelineServer) Close() { ps.srv.Close() }

type noticeLog struct {
	mu      sync.Mutex
	notices []string
}

func (n *noticeLog) notify(_ Severity, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, msg)
}

func (n *noticeLog) saw(msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.notices {
		if m == msg {
			return true
		}
	}
	return false
}

func TestControllerStartIsReentrantSafe(t *testing.T) {
	ps := newPipelineServer(`{"type":"connected"}`)
	defer ps.Close()

	notices := &noticeLog{}
	c := NewController(ps.srv.URL, WithNotifier(notices.notify))
	defer c.StopPipeline()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.StartPipeline(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ps.triggers.Load(), "concurrent starts collapse to one trigger")
	assert.True(t, c.State().Status.Active())

	require.Eventually(t, func() bool { return ps.streamConns.Load() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), ps.streamConns.Load(), "exactly one stream connection opened")
}

func TestControllerStartSkipsWhenFresh(t *testing.T) {
	ps := newPipelineServer()
	defer ps.Close()

	notices := &noticeLog{}
	now := time.Now()
	c := NewController(ps.srv.URL,
		WithNotifier(notices.notify),
		WithClock(func() time.Time { return now }),
	)
	c.mu.Lock()
	c.state.LastSyncTime = now.Add(-2 * time.Minute)
	c.mu.Unlock()

	require.NoError(t, c.StartPipeline(context.Background()))

	assert.Zero(t, ps.triggers.Load())
	assert.True(t, notices.saw("Data is fresh, skipping sync"))
	assert.Equal(t, StatusIdle, c.State().Status)
}

func TestControllerForceSyncBypassesFreshness(t *testing.T) {
	ps := newPipelineServer(`{"type":"connected"}`)
	defer ps.Close()

	now := time.Now()
	c := NewController(ps.srv.URL,
		WithNotifier(func(Severity, string) {}),
		WithClock(func() time.Time { return now }),
	)
	defer c.StopPipeline()

	c.mu.Lock()
	c.state.LastSyncTime = now.Add(-2 * time.Minute)
	c.mu.Unlock()

	require.NoError(t, c.ForceSync(context.Background()))
	assert.Equal(t, int64(1), ps.triggers.Load())
}

func TestControllerTriggerFailureFailsRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline/sync", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"sync_enqueue_failed"}}`, http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /api/pipeline/sync/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	notices := &noticeLog{}
	c := NewController(srv.URL,
		WithNotifier(notices.notify),
		WithResetGrace(20*time.Millisecond),
	)

	err := c.StartPipeline(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, c.State().Status)
	assert.True(t, notices.saw("Failed to start pipeline"))

	// The failed display state resets to idle after the grace window.
	require.Eventually(t, func() bool {
		return c.State().Status == StatusIdle
	}, time.Second, 10*time.Millisecond)
}

func TestControllerTerminalAutoReset(t *testing.T) {
	ps := newPipelineServer()
	defer ps.Close()

	c := NewController(ps.srv.URL,
		WithNotifier(func(Severity, string) {}),
		WithResetGrace(20*time.Millisecond),
	)

	c.handleEvent(models.PipelineEvent{
		Type:  models.EventComplete,
		Stats: &models.RunStats{EmailsFetched: 3, CompaniesExtracted: 1},
	})

	s0 := c.State()
	assert.Equal(t, StatusComplete, s0.Status)
	assert.False(t, s0.IsConnected, "stream disconnected during the terminal grace")

	require.Eventually(t, func() bool {
		s := c.State()
		return s.Status == StatusIdle && s.Progress == 0
	}, time.Second, 5*time.Millisecond)

	// The reset clears display state, not sync metadata.
	s := c.State()
	assert.True(t, s.LastSyncSuccess)
	assert.False(t, s.LastSyncTime.IsZero())
	assert.Equal(t, 3, s.Metrics.EmailsFetched)
}

func TestControllerResetCancelledByNewRun(t *testing.T) {
	ps := newPipelineServer(`{"type":"connected"}`)
	defer ps.Close()

	c := NewController(ps.srv.URL,
		WithNotifier(func(Severity, string) {}),
		WithResetGrace(60*time.Millisecond),
	)
	defer c.StopPipeline()

	c.handleEvent(models.PipelineEvent{Type: models.EventError, Message: "boom"})
	require.Equal(t, StatusError, c.State().Status)

	// Forcing a new run before the grace elapses cancels the pending reset.
	require.NoError(t, c.ForceSync(context.Background()))
	require.True(t, c.State().Status.Active())

	time.Sleep(120 * time.Millisecond)
	assert.True(t, c.State().Status.Active(), "scheduled reset must not fire into the new run")
}

func TestControllerEndToEndRun(t *testing.T) {
	ps := newPipelineServer(
		`{"type":"connected"}`,
		`{"type":"status","status":"fetching","message":"Fetching emails...","progress":5}`,
		`{"type":"emails_fetched","emailCount":2,"progress":10}`,
		`{"type":"processing_email","currentEmail":1,"totalEmails":2}`,
		`{"type":"company_discovered","company":{"name":"Acme Robotics","isNew":true}}`,
		`{"type":"processing_email","currentEmail":2,"totalEmails":2}`,
		`{"type":"complete","progress":100,"stats":{"emailsFetched":2,"companiesExtracted":1,"newCompanies":1,"totalMentions":1}}`,
	)
	defer ps.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	notices := &noticeLog{}
	c := NewController(ps.srv.URL,
		WithNotifier(notices.notify),
		WithStateFile(NewStateFile(statePath, nil)),
		WithResetGrace(30*time.Millisecond),
	)

	var mu sync.Mutex
	var seen []Status
	unsub := c.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != s.Status {
			seen = append(seen, s.Status)
		}
	})
	defer unsub()

	require.NoError(t, c.StartPipeline(context.Background()))
	assert.Equal(t, int64(1), ps.triggers.Load())

	require.Eventually(t, func() bool {
		return c.State().Status == StatusIdle && c.State().LastSyncSuccess
	}, 3*time.Second, 10*time.Millisecond)

	s := c.State()
	assert.True(t, s.LastSyncSuccess)
	assert.Equal(t, FreshnessFresh, s.DataFreshness)
	require.Len(t, s.RecentDiscoveries, 1)
	assert.Equal(t, "Acme Robotics", s.RecentDiscoveries[0].Name)
	assert.Equal(t, 2, s.Metrics.EmailsFetched)
	assert.Equal(t, 1, s.Metrics.CompaniesExtracted)
	assert.Equal(t, 1, s.Metrics.NewCompanies)
	assert.True(t, notices.saw("Pipeline sync complete"))

	mu.Lock()
	statuses := append([]Status(nil), seen...)
	mu.Unlock()
	assert.Equal(t, StatusConnecting, statuses[0])
	assert.Contains(t, statuses, StatusComplete)
	assert.Equal(t, StatusIdle, statuses[len(statuses)-1])

	// A fresh controller rehydrates the persisted metadata from disk.
	c2 := NewController(ps.srv.URL,
		WithNotifier(func(Severity, string) {}),
		WithStateFile(NewStateFile(statePath, nil)),
	)
	s2 := c2.State()
	assert.True(t, s2.LastSyncSuccess)
	assert.Equal(t, FreshnessFresh, s2.DataFreshness)
	assert.Equal(t, 2, s2.Metrics.EmailsFetched)
}

func TestControllerServerSkipReturnsToIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"skipped":true,"data":{"status":"idle"}}`)
	})
	mux.HandleFunc("GET /api/pipeline/sync/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	notices := &noticeLog{}
	c := NewController(srv.URL, WithNotifier(notices.notify))

	require.NoError(t, c.StartPipeline(context.Background()))

	assert.Equal(t, StatusIdle, c.State().Status)
	assert.True(t, notices.saw("Sync skipped, data is fresh"))
}

func TestControllerCheckDataFreshness(t *testing.T) {
	last := time.Now().Add(-50 * time.Minute).UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pipeline/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"data":{"status":"idle","lastSync":%q}}`, last.Format(time.RFC3339))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewController(srv.URL, WithNotifier(func(Severity, string) {}))

	require.NoError(t, c.CheckDataFreshness(context.Background()))

	s := c.State()
	assert.True(t, s.LastSyncTime.Equal(last))
	assert.Equal(t, FreshnessStale, s.DataFreshness)
}

func TestControllerAutoSyncStartsWhenStale(t *testing.T) {
	ps := newPipelineServer(`{"type":"connected"}`)
	defer ps.Close()

	c := NewController(ps.srv.URL, WithNotifier(func(Severity, string) {}))
	defer c.StopPipeline()

	c.mu.Lock()
	c.state.LastSyncTime = time.Now().Add(-3 * time.Hour)
	c.mu.Unlock()

	c.SetAutoSync(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunAutoSync(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return ps.triggers.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The now-active run suppresses further auto-starts on later ticks.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int64(1), ps.triggers.Load())
	assert.True(t, c.State().Status.Active())
}

func TestControllerAutoSyncSkipsWhenFresh(t *testing.T) {
	ps := newPipelineServer()
	defer ps.Close()

	c := NewController(ps.srv.URL, WithNotifier(func(Severity, string) {}))

	c.mu.Lock()
	c.state.LastSyncTime = time.Now().Add(-5 * time.Minute)
	c.mu.Unlock()

	c.SetAutoSync(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunAutoSync(ctx, 20*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, ps.triggers.Load())
	// The loop still reclassifies freshness for subscribers.
	assert.Equal(t, FreshnessFresh, c.State().DataFreshness)
}

func TestControllerAutoSyncDisabledDoesNothing(t *testing.T) {
	ps := newPipelineServer()
	defer ps.Close()

	c := NewController(ps.srv.URL, WithNotifier(func(Severity, string) {}))

	c.mu.Lock()
	c.state.LastSyncTime = time.Now().Add(-3 * time.Hour)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunAutoSync(ctx, 20*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, ps.triggers.Load(), "stale data alone must not start a run while auto-sync is off")
	assert.Equal(t, FreshnessOutdated, c.State().DataFreshness)
}

func TestControllerFreshnessChecksCollapse(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pipeline/sync", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":{"status":"idle"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewController(srv.URL, WithNotifier(func(Severity, string) {}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.CheckDataFreshness(context.Background())
		}()
	}

	// One request is in flight; the overlapping checks collapse into it.
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestControllerStopPipeline(t *testing.T) {
	ps := newPipelineServer(`{"type":"connected"}`)
	defer ps.Close()

	c := NewController(ps.srv.URL, WithNotifier(func(Severity, string) {}))
	require.NoError(t, c.StartPipeline(context.Background()))
	require.True(t, c.State().Status.Active())

	c.StopPipeline()

	s := c.State()
	assert.Equal(t, StatusIdle, s.Status)
	assert.False(t, s.EndTime.IsZero())
	assert.Equal(t, "Pipeline stopped", s.Message)
}
