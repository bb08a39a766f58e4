package runner

import (
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// withinBusinessHours reports whether now falls inside the configured sending
// window. A disabled window is always open.
func withinBusinessHours(bh domain.BusinessHours, now time.Time) bool {
	if !bh.Enabled {
		return true
	}
	loc := bhLocation(bh)
	local := now.In(loc)

	if bh.ExcludeWeekends && (local.Weekday() == time.Saturday || local.Weekday() == time.Sunday) {
		return false
	}
	h := local.Hour()
	if h < bh.StartHour || h >= bh.EndHour {
		return false
	}
	if bh.ExcludeLunchBreak && h >= bh.LunchStart && h < bh.LunchEnd {
		return false
	}
	return true
}

// nextBusinessWindow returns the next instant at or after now at which the
// window opens.
func nextBusinessWindow(bh domain.BusinessHours, now time.Time) time.Time {
	if !bh.Enabled {
		return now
	}
	loc := bhLocation(bh)
	local := now.In(loc)

	// Step forward hour by hour until inside the window; the window repeats
	// daily so 14 days bounds the scan even with weekends excluded.
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc).
		Add(time.Hour)
	for i := 0; i < 24*14; i++ {
		if withinBusinessHours(bh, candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Hour)
	}
	return candidate
}

func bhLocation(bh domain.BusinessHours) *time.Location {
	loc, err := time.LoadLocation(bh.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
