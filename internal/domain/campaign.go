package domain

import "time"

// CampaignStatus is the lifecycle state of a blast campaign.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignStopped, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// legalTransitions is the campaign state machine. Terminal states have no
// outgoing edges; anything not listed here is an invalid transition.
var legalTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignScheduled: {CampaignRunning, CampaignStopped, CampaignFailed},
	CampaignRunning:   {CampaignPaused, CampaignStopped, CampaignCompleted, CampaignFailed},
	CampaignPaused:    {CampaignRunning, CampaignStopped, CampaignFailed},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Pause reasons recorded on a paused campaign. The runner distinguishes
// operator pauses from automatic safety pauses when deciding resume behavior.
const (
	PauseReasonManual        = "manual"
	PauseReasonUnhealthy     = "account_unhealthy"
	PauseReasonBanRate       = "AUTO_PAUSE_BAN_RATE"
	PauseReasonBusinessHours = "outside_business_hours"
	PauseReasonDailyLimit    = "daily_limit_reached"
)

// Campaign is one batch send of a rendered message to N recipients from a
// single bound outbound channel.
type Campaign struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ChannelID string         `json:"channel_id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`

	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Failed       int     `json:"failed"`
	Skipped      int     `json:"skipped"`
	CurrentIndex int     `json:"current_index"`
	ProgressPct  float64 `json:"progress_pct"`

	Config Config `json:"config"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PauseReason string     `json:"pause_reason,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Progress recomputes the derived progress percentage from the authoritative
// counters. Retries do not move progress backwards because terminal counters
// only ever grow.
func (c *Campaign) Progress() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Sent+c.Failed+c.Skipped) / float64(c.Total) * 100
}

// Recipient is one entry of a campaign creation request.
type Recipient struct {
	Address   string         `json:"address"`
	Label     string         `json:"label,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}
