package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/substackintel/pipeline/internal/ingestion"
	"github.com/substackintel/pipeline/internal/store/postgres"
	"github.com/substackintel/pipeline/pkg/apierr"
	"github.com/substackintel/pipeline/pkg/models"
)

// SyncStore is the slice of the store the sync endpoints need.
type SyncStore interface {
	CreateSyncRun(ctx context.Context, arg postgres.CreateSyncRunParams) (postgres.SyncRun, error)
	GetSyncRun(ctx context.Context, id uuid.UUID) (postgres.SyncRun, error)
	GetActiveSyncRun(ctx context.Context) (postgres.SyncRun, error)
	GetLatestCompletedSyncRun(ctx context.Context) (postgres.SyncRun, error)
	ListSyncRuns(ctx context.Context, arg postgres.ListSyncRunsParams) ([]postgres.SyncRun, error)
	GetPipelineStats(ctx context.Context) (postgres.PipelineStats, error)
}

// Enqueuer hands a sync job to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg ingestion.SyncMessage) (string, error)
}

type SyncHandler struct {
	logger      *slog.Logger
	store       SyncStore
	producer    Enqueuer
	freshWindow time.Duration
	now         func() time.Time
}

func NewSyncHandler(logger *slog.Logger, store SyncStore, producer Enqueuer, freshWindow time.Duration) *SyncHandler {
	if freshWindow <= 0 {
		freshWindow = 5 * time.Minute
	}
	return &SyncHandler{
		logger:      logger,
		store:       store,
		producer:    producer,
		freshWindow: freshWindow,
		now:         time.Now,
	}
}

type triggerRequest struct {
	ForceRefresh bool `json:"forceRefresh"`
}

// Trigger starts a pipeline run unless one is active or the data is fresh.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, h.logger, apierr.InvalidRequestBody())
		return
	}

	if h.producer == nil {
		writeAPIError(w, h.logger, apierr.SyncEnqueueFailed(errors.New("job queue not configured")))
		return
	}

	ctx := r.Context()

	if active, err := h.store.GetActiveSyncRun(ctx); err == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   apierr.SyncAlreadyRunning().Response().Error,
			"data":    h.snapshot(active.Status, &active, false),
		})
		return
	} else if !apierr.IsNotFound(err) {
		writeAPIError(w, h.logger, apierr.SyncStatusFailed(err))
		return
	}

	if !req.ForceRefresh {
		if last, err := h.store.GetLatestCompletedSyncRun(ctx); err == nil &&
			last.CompletedAt != nil && h.now().Sub(*last.CompletedAt) < h.freshWindow {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"skipped": true,
				"data":    h.snapshot("idle", &last, true),
			})
			return
		}
	}

	trigger := "manual"
	if req.ForceRefresh {
		trigger = "manual_force"
	}
	run, err := h.store.CreateSyncRun(ctx, postgres.CreateSyncRunParams{Trigger: trigger})
	if err != nil {
		writeAPIError(w, h.logger, apierr.SyncRunCreateFailed(err))
		return
	}

	if _, err := h.producer.Enqueue(ctx, ingestion.SyncMessage{
		SyncRunID:    run.ID,
		Trigger:      trigger,
		ForceRefresh: req.ForceRefresh,
	}); err != nil {
		writeAPIError(w, h.logger, apierr.SyncEnqueueFailed(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.snapshot("pending", &run, false),
	})
}

// Status returns last-sync metadata used by the client freshness check.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "idle"
	if active, err := h.store.GetActiveSyncRun(ctx); err == nil {
		status = active.Status
	} else if !apierr.IsNotFound(err) {
		writeAPIError(w, h.logger, apierr.SyncStatusFailed(err))
		return
	}

	last, err := h.store.GetLatestCompletedSyncRun(ctx)
	if err != nil {
		if !apierr.IsNotFound(err) {
			writeAPIError(w, h.logger, apierr.SyncStatusFailed(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    models.SyncSnapshot{Status: status, DataIsFresh: false},
		})
		return
	}

	resp := map[string]any{
		"success": true,
		"data": h.snapshot(status, &last,
			last.CompletedAt != nil && h.now().Sub(*last.CompletedAt) < h.freshWindow),
	}
	if totals, err := h.store.GetPipelineStats(ctx); err == nil {
		resp["totals"] = totals
	} else {
		h.logger.Warn("pipeline stats unavailable", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns recent sync runs for the dashboard history view.
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	runs, err := h.store.ListSyncRuns(r.Context(), postgres.ListSyncRunsParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		writeAPIError(w, h.logger, apierr.SyncRunListFailed(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sync_runs": runs,
		"total":     len(runs),
	})
}

// GetRun returns a single sync run by ID, completed or not.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRunID())
		return
	}

	run, err := h.store.GetSyncRun(r.Context(), id)
	if err != nil {
		if apierr.IsNotFound(err) {
			writeAPIError(w, h.logger, apierr.SyncRunNotFound())
			return
		}
		writeAPIError(w, h.logger, apierr.InternalError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sync_run": run,
	})
}

func (h *SyncHandler) snapshot(status string, run *postgres.SyncRun, fresh bool) models.SyncSnapshot {
	snap := models.SyncSnapshot{
		Status:      status,
		DataIsFresh: fresh,
	}
	if run != nil {
		snap.RunID = run.ID.String()
		snap.LastSync = run.CompletedAt
		snap.Stats = models.RunStats{
			EmailsFetched:      int(run.EmailsFetched),
			CompaniesExtracted: int(run.CompaniesExtracted),
			NewCompanies:       int(run.NewCompanies),
			TotalMentions:      int(run.TotalMentions),
		}
	}
	return snap
}
