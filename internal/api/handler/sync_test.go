package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/substackintel/pipeline/internal/ingestion"
	"github.com/substackintel/pipeline/internal/store/postgres"
)

type fakeSyncStore struct {
	active    *postgres.SyncRun
	activeErr error
	latest    *postgres.SyncRun
	createErr error
	created   []postgres.CreateSyncRunParams
	runs      []postgres.SyncRun
	listErr   error
	run       *postgres.SyncRun
	runErr    error
	stats     postgres.PipelineStats
	statsErr  error
}

func (f *fakeSyncStore) CreateSyncRun(ctx context.Context, arg postgres.CreateSyncRunParams) (postgres.SyncRun, error) {
	if f.createErr != nil {
		return postgres.SyncRun{}, f.createErr
	}
	f.created = append(f.created, arg)
	return postgres.SyncRun{ID: uuid.New(), Status: "pending", Trigger: arg.Trigger, StartedAt: time.Now()}, nil
}

func (f *fakeSyncStore) GetActiveSyncRun(ctx context.Context) (postgres.SyncRun, error) {
	if f.activeErr != nil {
		return postgres.SyncRun{}, f.activeErr
	}
	if f.active == nil {
		return postgres.SyncRun{}, pgx.ErrNoRows
	}
	return *f.active, nil
}

func (f *fakeSyncStore) GetLatestCompletedSyncRun(ctx context.Context) (postgres.SyncRun, error) {
	if f.latest == nil {
		return postgres.SyncRun{}, pgx.ErrNoRows
	}
	return *f.latest, nil
}

func (f *fakeSyncStore) ListSyncRuns(ctx context.Context, arg postgres.ListSyncRunsParams) ([]postgres.SyncRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.runs, nil
}

func (f *fakeSyncStore) GetSyncRun(ctx context.Context, id uuid.UUID) (postgres.SyncRun, error) {
	if f.runErr != nil {
		return postgres.SyncRun{}, f.runErr
	}
	if f.run == nil || f.run.ID != id {
		return postgres.SyncRun{}, pgx.ErrNoRows
	}
	return *f.run, nil
}

func (f *fakeSyncStore) GetPipelineStats(ctx context.Context) (postgres.PipelineStats, error) {
	if f.statsErr != nil {
		return postgres.PipelineStats{}, f.statsErr
	}
	return f.stats, nil
}

type fakeEnqueuer struct {
	msgs []ingestion.SyncMessage
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, msg ingestion.SyncMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "1700000000000-0", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func completedRun(completedAgo time.Duration) *postgres.SyncRun {
	done := time.Now().Add(-completedAgo)
	return &postgres.SyncRun{
		ID:                 uuid.New(),
		Status:             "completed",
		Trigger:            "manual",
		EmailsFetched:      10,
		CompaniesExtracted: 4,
		NewCompanies:       1,
		TotalMentions:      12,
		StartedAt:          done.Add(-time.Minute),
		CompletedAt:        &done,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestTrigger_EnqueuesRun(t *testing.T) {
	st := &fakeSyncStore{}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(q.msgs))
	}
	if q.msgs[0].Trigger != "manual" {
		t.Errorf("trigger = %q, want manual", q.msgs[0].Trigger)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
}

func TestTrigger_InvalidBody(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeSyncStore{}, &fakeEnqueuer{}, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrigger_EmptyBodyAllowed(t *testing.T) {
	st := &fakeSyncStore{}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(""))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(q.msgs))
	}
}

func TestTrigger_ConflictWhenActive(t *testing.T) {
	active := &postgres.SyncRun{ID: uuid.New(), Status: "running", StartedAt: time.Now()}
	st := &fakeSyncStore{active: active}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(q.msgs) != 0 {
		t.Errorf("enqueued %d messages, want 0", len(q.msgs))
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestTrigger_SkipsWhenFresh(t *testing.T) {
	st := &fakeSyncStore{latest: completedRun(2 * time.Minute)}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.msgs) != 0 {
		t.Errorf("enqueued %d messages, want 0", len(q.msgs))
	}
	body := decodeBody(t, rec)
	if body["skipped"] != true {
		t.Errorf("skipped = %v, want true", body["skipped"])
	}
}

func TestTrigger_ForceBypassesFreshness(t *testing.T) {
	st := &fakeSyncStore{latest: completedRun(2 * time.Minute)}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{"forceRefresh":true}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(q.msgs))
	}
	if q.msgs[0].Trigger != "manual_force" {
		t.Errorf("trigger = %q, want manual_force", q.msgs[0].Trigger)
	}
	if !q.msgs[0].ForceRefresh {
		t.Error("ForceRefresh should be set on a forced trigger")
	}
}

func TestTrigger_StaleDataStartsRun(t *testing.T) {
	st := &fakeSyncStore{latest: completedRun(10 * time.Minute)}
	q := &fakeEnqueuer{}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.msgs) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(q.msgs))
	}
}

func TestTrigger_EnqueueFailure(t *testing.T) {
	st := &fakeSyncStore{}
	q := &fakeEnqueuer{err: errors.New("valkey down")}
	h := NewSyncHandler(testLogger(), st, q, 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestStatus_NoHistory(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeSyncStore{}, &fakeEnqueuer{}, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/sync", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	if data["status"] != "idle" {
		t.Errorf("status = %v, want idle", data["status"])
	}
	if data["dataIsFresh"] != false {
		t.Errorf("dataIsFresh = %v, want false", data["dataIsFresh"])
	}
}

func TestStatus_WithCompletedRun(t *testing.T) {
	st := &fakeSyncStore{
		latest: completedRun(2 * time.Minute),
		stats:  postgres.PipelineStats{TotalEmails: 120, TotalCompanies: 34, TotalMentions: 210},
	}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/sync", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	if data["dataIsFresh"] != true {
		t.Errorf("dataIsFresh = %v, want true", data["dataIsFresh"])
	}
	if data["lastSync"] == nil {
		t.Error("lastSync should be set")
	}
	stats := data["stats"].(map[string]any)
	if stats["emailsFetched"] != float64(10) {
		t.Errorf("emailsFetched = %v, want 10", stats["emailsFetched"])
	}
	totals := body["totals"].(map[string]any)
	if totals["total_companies"] != float64(34) {
		t.Errorf("total_companies = %v, want 34", totals["total_companies"])
	}
}

func TestStatus_ActiveRunReported(t *testing.T) {
	active := &postgres.SyncRun{ID: uuid.New(), Status: "running", StartedAt: time.Now()}
	st := &fakeSyncStore{active: active, latest: completedRun(time.Hour)}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/sync", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	if data["status"] != "running" {
		t.Errorf("status = %v, want running", data["status"])
	}
	if data["dataIsFresh"] != false {
		t.Errorf("dataIsFresh = %v, want false after an hour", data["dataIsFresh"])
	}
}

func getRunRequest(runID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/runs/"+runID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("runID", runID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetRun_Found(t *testing.T) {
	run := completedRun(time.Hour)
	st := &fakeSyncStore{run: run}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	rec := httptest.NewRecorder()
	h.GetRun(rec, getRunRequest(run.ID.String()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	got := body["sync_run"].(map[string]any)
	if got["id"] != run.ID.String() {
		t.Errorf("id = %v, want %s", got["id"], run.ID)
	}
}

func TestGetRun_UnknownID(t *testing.T) {
	st := &fakeSyncStore{run: completedRun(time.Hour)}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	rec := httptest.NewRecorder()
	h.GetRun(rec, getRunRequest(uuid.New().String()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if code := body["error"].(map[string]any)["code"]; code != "SYNC_RUN_NOT_FOUND" {
		t.Errorf("error code = %v, want SYNC_RUN_NOT_FOUND", code)
	}
}

func TestGetRun_MalformedID(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeSyncStore{}, &fakeEnqueuer{}, 5*time.Minute)

	rec := httptest.NewRecorder()
	h.GetRun(rec, getRunRequest("not-a-uuid"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetRun_StoreFailure(t *testing.T) {
	st := &fakeSyncStore{runErr: errors.New("connection reset")}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	rec := httptest.NewRecorder()
	h.GetRun(rec, getRunRequest(uuid.New().String()))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListRuns_DefaultLimit(t *testing.T) {
	st := &fakeSyncStore{runs: []postgres.SyncRun{*completedRun(time.Hour), *completedRun(2 * time.Hour)}}
	h := NewSyncHandler(testLogger(), st, &fakeEnqueuer{}, 5*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/runs?limit=-3", nil)
	rec := httptest.NewRecorder()
	h.ListRuns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}
}
