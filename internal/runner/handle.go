package runner

import (
	"context"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// Snapshot is a point-in-time view of a running campaign's counters.
type Snapshot struct {
	CampaignID string
	TenantID   string
	ChannelID  string
	Status     domain.CampaignStatus
	Total      int
	Sent       int
	Failed     int
	Skipped    int
}

// Attempts is the lifetime number of terminal send attempts.
func (s Snapshot) Attempts() int { return s.Sent + s.Failed }

// FailureRate is failed over lifetime attempts, 0 when nothing was attempted.
func (s Snapshot) FailureRate() float64 {
	if s.Attempts() == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Attempts())
}

// Handle is the narrow view of a runner handed to supervisors. The emergency
// monitor and resume scheduler act through it and never hold the runner
// itself, so the supervision layer cannot reach into worker internals.
type Handle interface {
	Snapshot() Snapshot
	Pause(ctx context.Context, reason string, resumeAt *time.Time) error
}

// HandleSource enumerates the live runners. Implemented by the Manager.
type HandleSource interface {
	Handles() []Handle
}
