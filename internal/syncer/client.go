package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// APIClient talks to the pipeline sync endpoints.
type APIClient struct {
	baseURL string
	httpc   *http.Client
}

func NewAPIClient(baseURL string, httpc *http.Client) *APIClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// StreamURL is the SSE endpoint fed to the stream client.
func (c *APIClient) StreamURL() string {
	return c.baseURL + "/api/pipeline/sync/stream"
}

// TriggerResponse is the POST /api/pipeline/sync reply.
type TriggerResponse struct {
	Success bool                `json:"success"`
	Skipped bool                `json:"skipped,omitempty"`
	Data    models.SyncSnapshot `json:"data"`
}

// StatusResponse is the GET /api/pipeline/sync reply.
type StatusResponse struct {
	Success bool                `json:"success"`
	Data    models.SyncSnapshot `json:"data"`
}

// TriggerSync fires a pipeline run. The request is fire-and-forget from the
// run's perspective: progress arrives over the stream, not this response.
func (c *APIClient) TriggerSync(ctx context.Context, forceRefresh bool) (TriggerResponse, error) {
	body, err := json.Marshal(map[string]bool{"forceRefresh": forceRefresh})
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("marshal trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/pipeline/sync", bytes.NewReader(body))
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("trigger sync: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TriggerResponse{}, fmt.Errorf("trigger sync: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TriggerResponse{}, fmt.Errorf("decode trigger response: %w", err)
	}
	return out, nil
}

// SyncStatus fetches last-sync metadata for the freshness check.
func (c *APIClient) SyncStatus(ctx context.Context) (StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/pipeline/sync", nil)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("fetch sync status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return StatusResponse{}, fmt.Errorf("fetch sync status: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusResponse{}, fmt.Errorf("decode status response: %w", err)
	}
	return out, nil
}
