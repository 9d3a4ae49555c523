package syncer

import (
	"fmt"
	"math"
	"time"

	"github.com/substackintel/pipeline/pkg/models"
)

// ResetGrace is how long a terminal complete/error state stays visible
// before the controller resets the session back to idle.
const ResetGrace = 2 * time.Second

// Effect is a side-effect descriptor returned by Reduce alongside the next
// state. The reducer itself performs no I/O; the controller interprets
// effects after committing the state.
type Effect interface{ isEffect() }

// EffectPersist asks the controller to write the durable snapshot.
type EffectPersist struct{}

// EffectNotify surfaces a user-visible notice.
type EffectNotify struct {
	Severity Severity
	Message  string
}

// EffectDisconnect closes the stream connection.
type EffectDisconnect struct{}

// EffectScheduleReset schedules the terminal-state reset back to idle.
type EffectScheduleReset struct{ After time.Duration }

func (EffectPersist) isEffect()       {}
func (EffectNotify) isEffect()        {}
func (EffectDisconnect) isEffect()    {}
func (EffectScheduleReset) isEffect() {}

// Reduce maps (state, event) to the next state plus effect descriptors. It is
// total over all states: events arriving after a terminal state are applied
// harmlessly because the session is already scheduled to reset.
func Reduce(s State, ev models.PipelineEvent, now time.Time) (State, []Effect) {
	var effects []Effect

	switch ev.Type {
	case models.EventConnected:
		s.IsConnected = true
		s.ConnectionError = ""
		s.ActivityLog = pushActivity(s.ActivityLog, SeverityInfo, "Connected to pipeline stream", now)

	case models.EventStatus:
		if st := statusFromWire(ev.Status); st != "" {
			s.Status = st
		}
		if ev.Message != "" {
			s.Message = ev.Message
			s.ActivityLog = pushActivity(s.ActivityLog, SeverityInfo, ev.Message, now)
		}
		s.Progress = maxProgress(s.Progress, ev.Progress)

	case models.EventEmailsFetched:
		s.Status = StatusFetching
		s.TotalEmails = ev.EmailCount
		s.Metrics.EmailsFetched = ev.EmailCount
		s.Message = fmt.Sprintf("Fetched %d emails", ev.EmailCount)
		s.Progress = maxProgress(s.Progress, ev.Progress)
		s.ActivityLog = pushActivity(s.ActivityLog, SeveritySuccess, s.Message, now)
		effects = append(effects, EffectPersist{})

	case models.EventProcessingEmail:
		s.Status = StatusProcessing
		s.CurrentEmail = ev.CurrentEmail
		if ev.TotalEmails > 0 {
			s.TotalEmails = ev.TotalEmails
		}
		if ev.Message != "" {
			s.Message = ev.Message
		} else {
			s.Message = fmt.Sprintf("Processing email %d of %d", s.CurrentEmail, s.TotalEmails)
		}
		rate, eta := processingRate(s.CurrentEmail, s.TotalEmails, now.Sub(s.StartTime))
		if rate > 0 {
			s.Metrics.ProcessingRate = rate
			s.EstimatedTimeRemaining = eta
		}
		s.Progress = maxProgress(s.Progress, runProgress(s.CurrentEmail, s.TotalEmails))
		s.Progress = maxProgress(s.Progress, ev.Progress)

	case models.EventCompanyDiscovered:
		if ev.Company == nil {
			break
		}
		d := *ev.Company
		if d.Timestamp.IsZero() {
			d.Timestamp = now
		}
		s.RecentDiscoveries = pushDiscovery(s.RecentDiscoveries, d)
		s.Metrics.TotalMentions++
		if d.IsNew {
			s.Metrics.NewCompanies++
			s.ActivityLog = pushActivity(s.ActivityLog, SeveritySuccess,
				fmt.Sprintf("New company discovered: %s", d.Name), now)
		}
		effects = append(effects, EffectPersist{})

	case models.EventComplete:
		s.Status = StatusComplete
		s.Progress = 100
		s.EndTime = now
		s.LastSyncTime = now
		s.LastSyncSuccess = true
		s.DataFreshness = FreshnessFresh
		if ev.Stats != nil {
			rate := s.Metrics.ProcessingRate
			s.Metrics = *ev.Stats
			if s.Metrics.ProcessingRate == 0 {
				s.Metrics.ProcessingRate = rate
			}
		}
		s.Message = "Pipeline completed"
		s.ActivityLog = pushActivity(s.ActivityLog, SeveritySuccess,
			fmt.Sprintf("Pipeline completed: %d companies from %d emails",
				s.Metrics.CompaniesExtracted, s.Metrics.EmailsFetched), now)
		effects = append(effects,
			EffectPersist{},
			EffectNotify{Severity: SeveritySuccess, Message: "Pipeline sync complete"},
			EffectDisconnect{},
			EffectScheduleReset{After: ResetGrace},
		)

	case models.EventError:
		msg := ev.Message
		if msg == "" {
			msg = "Pipeline failed"
		}
		s.Status = StatusError
		s.EndTime = now
		s.LastSyncSuccess = false
		s.ConnectionError = msg
		s.Message = msg
		s.ActivityLog = pushActivity(s.ActivityLog, SeverityError, msg, now)
		effects = append(effects,
			EffectPersist{},
			EffectNotify{Severity: SeverityError, Message: msg},
			EffectDisconnect{},
			EffectScheduleReset{After: ResetGrace},
		)

	case models.EventHeartbeat:
		// Keep-alives are acknowledged by the transport and never reach the
		// reducer in normal operation; a stray one is a no-op.
	}

	return s, effects
}

// statusFromWire maps a server status string onto the client enum. Unknown
// values are ignored so a newer server cannot wedge an older client.
func statusFromWire(v string) Status {
	switch Status(v) {
	case StatusIdle, StatusConnecting, StatusFetching, StatusExtracting,
		StatusProcessing, StatusComplete, StatusError:
		return Status(v)
	}
	return ""
}

// processingRate returns emails/minute and the estimated seconds remaining.
// Undefined (0, 0) until at least one email and a nonzero elapsed interval.
func processingRate(current, total int, elapsed time.Duration) (float64, int) {
	elapsedMinutes := elapsed.Minutes()
	if current <= 0 || elapsedMinutes <= 0 {
		return 0, 0
	}
	rate := math.Round(float64(current) / elapsedMinutes)
	if rate <= 0 {
		return 0, 0
	}
	eta := int(math.Round(float64(total-current) / rate * 60))
	if eta < 0 {
		eta = 0
	}
	return rate, eta
}

// runProgress scales email position into a percentage, held below 100 until
// the complete event arrives.
func runProgress(current, total int) int {
	if total <= 0 {
		return 0
	}
	pct := current * 100 / total
	if pct > 99 {
		pct = 99
	}
	return pct
}

func maxProgress(a, b int) int {
	if b > a {
		return b
	}
	return a
}
