// Package emitter fans campaign events out to per-tenant subscribers.
// Delivery is best-effort and at-most-once: a slow subscriber is dropped
// rather than ever blocking a runner.
package emitter

import (
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

// EventKind enumerates the event stream vocabulary.
type EventKind string

const (
	EventProgress          EventKind = "progress"
	EventMessageSuccess    EventKind = "messageSuccess"
	EventMessageFailure    EventKind = "messageFailure"
	EventStatusChange      EventKind = "statusChange"
	EventCampaignCompleted EventKind = "campaignCompleted"
	EventToast             EventKind = "toast"
)

// ToastKind is the severity of a toast event.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastWarning ToastKind = "warning"
	ToastInfo    ToastKind = "info"
)

// Event is one tenant-scoped notification.
type Event struct {
	Kind       EventKind              `json:"kind"`
	TenantID   string                 `json:"tenant_id"`
	CampaignID string                 `json:"campaign_id,omitempty"`
	At         time.Time              `json:"at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Sink consumes events. Implementations must never block the caller.
type Sink interface {
	Publish(e Event)
}

// Multi fans one publish out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// Progress reports campaign totals after an item reaches a terminal status.
func Progress(tenantID, campaignID string, st domain.QueueStats, pct float64, nextHint string) Event {
	data := map[string]interface{}{
		"sent":    st.Sent,
		"failed":  st.Failed,
		"skipped": st.Skipped,
		"pending": st.Pending,
		"pct":     pct,
	}
	if nextHint != "" {
		data["next_message_hint"] = nextHint
	}
	return Event{Kind: EventProgress, TenantID: tenantID, CampaignID: campaignID,
		At: time.Now().UTC(), Data: data}
}

// MessageSuccess reports one delivered message. The recipient is redacted
// before it leaves the process.
func MessageSuccess(tenantID, campaignID string, ordinal int, recipient string) Event {
	return Event{Kind: EventMessageSuccess, TenantID: tenantID, CampaignID: campaignID,
		At: time.Now().UTC(), Data: map[string]interface{}{
			"ordinal":   ordinal,
			"recipient": logger.RedactPhone(recipient),
		}}
}

// MessageFailure reports one failed delivery attempt.
func MessageFailure(tenantID, campaignID string, ordinal int, recipient string,
	kind domain.SendErrorKind, retryable bool, attempt, maxRetries int) Event {
	return Event{Kind: EventMessageFailure, TenantID: tenantID, CampaignID: campaignID,
		At: time.Now().UTC(), Data: map[string]interface{}{
			"ordinal":     ordinal,
			"recipient":   logger.RedactPhone(recipient),
			"error_kind":  string(kind),
			"retryable":   retryable,
			"attempt":     attempt,
			"max_retries": maxRetries,
		}}
}

// StatusChange reports a campaign state transition.
func StatusChange(tenantID, campaignID string, from, to domain.CampaignStatus, reason string) Event {
	data := map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}
	if reason != "" {
		data["reason"] = reason
	}
	return Event{Kind: EventStatusChange, TenantID: tenantID, CampaignID: campaignID,
		At: time.Now().UTC(), Data: data}
}

// CampaignCompleted carries the final totals of a finished run.
func CampaignCompleted(tenantID, campaignID string, st domain.QueueStats) Event {
	return Event{Kind: EventCampaignCompleted, TenantID: tenantID, CampaignID: campaignID,
		At: time.Now().UTC(), Data: map[string]interface{}{
			"sent":    st.Sent,
			"failed":  st.Failed,
			"skipped": st.Skipped,
			"total":   st.Total(),
		}}
}

// Toast is a user-facing notification.
func Toast(tenantID string, kind ToastKind, title, body string) Event {
	return Event{Kind: EventToast, TenantID: tenantID,
		At: time.Now().UTC(), Data: map[string]interface{}{
			"toast_kind": string(kind),
			"title":      title,
			"body":       body,
		}}
}
