package syncer

import (
	"time"

	"github.com/google/uuid"

	"github.com/substackintel/pipeline/pkg/models"
)

const (
	maxActivityEntries = 100
	maxDiscoveries     = 50
)

// pushActivity prepends an entry and drops the oldest beyond capacity.
// Returns a new slice; the input is never mutated.
func pushActivity(log []ActivityEntry, severity Severity, message string, now time.Time) []ActivityEntry {
	entry := ActivityEntry{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Timestamp: now,
	}

	next := make([]ActivityEntry, 0, min(len(log)+1, maxActivityEntries))
	next = append(next, entry)
	for _, e := range log {
		if len(next) == maxActivityEntries {
			break
		}
		next = append(next, e)
	}
	return next
}

// pushDiscovery prepends a discovery, newest first, capacity-bounded.
func pushDiscovery(discoveries []models.CompanyDiscovery, d models.CompanyDiscovery) []models.CompanyDiscovery {
	next := make([]models.CompanyDiscovery, 0, min(len(discoveries)+1, maxDiscoveries))
	next = append(next, d)
	for _, e := range discoveries {
		if len(next) == maxDiscoveries {
			break
		}
		next = append(next, e)
	}
	return next
}
