package syncer

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// Snapshot is the durable subset of State. Live run fields (status,
// progress) are deliberately excluded: a stale in-flight run cannot be
// resumed across sessions, so rehydration always starts at idle.
type Snapshot struct {
	LastSyncTime      time.Time                 `json:"lastSyncTime"`
	LastSyncSuccess   bool                      `json:"lastSyncSuccess"`
	DataFreshness     Freshness                 `json:"dataFreshness"`
	Metrics           models.RunStats           `json:"metrics"`
	RecentDiscoveries []models.CompanyDiscovery `json:"recentDiscoveries,omitempty"`
}

// StateFile persists the snapshot as JSON on disk. All failures degrade to a
// cache miss: corrupt or missing files never propagate an error.
type StateFile struct {
	path   string
	logger *slog.Logger
}

func NewStateFile(path string, logger *slog.Logger) *StateFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFile{path: path, logger: logger}
}

// Load reads the snapshot. The second return is false when nothing usable
// was stored.
func (f *StateFile) Load() (Snapshot, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("read state file failed", slog.String("error", err.Error()))
		}
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		f.logger.Warn("corrupt state file ignored", slog.String("error", err.Error()))
		return Snapshot{}, false
	}
	return snap, true
}

// Save writes the durable subset of the given state.
func (f *StateFile) Save(s State) {
	snap := Snapshot{
		LastSyncTime:      s.LastSyncTime,
		LastSyncSuccess:   s.LastSyncSuccess,
		DataFreshness:     s.DataFreshness,
		Metrics:           s.Metrics,
		RecentDiscoveries: s.RecentDiscoveries,
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		f.logger.Warn("marshal state file failed", slog.String("error", err.Error()))
		return
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		f.logger.Warn("create state dir failed", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		f.logger.Warn("write state file failed", slog.String("error", err.Error()))
	}
}

// apply rehydrates the persisted fields onto a fresh state, reclassifying
// freshness against the current clock instead of trusting the stored value.
func (snap Snapshot) apply(s *State, now time.Time) {
	s.LastSyncTime = snap.LastSyncTime
	s.LastSyncSuccess = snap.LastSyncSuccess
	s.Metrics = snap.Metrics
	s.RecentDiscoveries = snap.RecentDiscoveries
	s.DataFreshness = FreshnessOf(snap.LastSyncTime, now)
}
