package domain

import "time"

// ItemStatus is the delivery state of a single queued recipient.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemClaimed ItemStatus = "claimed"
	ItemSent    ItemStatus = "sent"
	ItemFailed  ItemStatus = "failed"
	ItemSkipped ItemStatus = "skipped"
)

// TerminalItem reports whether s is a terminal queue item status.
func TerminalItem(s ItemStatus) bool {
	return s == ItemSent || s == ItemFailed || s == ItemSkipped
}

// QueueItem is one recipient task owned by a campaign. At most one worker may
// hold an item in claimed status at any time; the queue store enforces this.
type QueueItem struct {
	ID              string     `json:"id"`
	CampaignID      string     `json:"campaign_id"`
	Ordinal         int        `json:"ordinal"`
	Recipient       string     `json:"recipient"`
	RecipientLabel  string     `json:"recipient_label,omitempty"`
	RenderedMessage string     `json:"rendered_message"`
	Status          ItemStatus `json:"status"`
	Attempt         int        `json:"attempt"`
	LastError       string     `json:"last_error,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// QueueStats is the per-status breakdown of a campaign's queue.
type QueueStats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total is the number of items in every status.
func (s QueueStats) Total() int {
	return s.Pending + s.Claimed + s.Sent + s.Failed + s.Skipped
}

// Done reports whether no items remain to be worked.
func (s QueueStats) Done() bool {
	return s.Pending == 0 && s.Claimed == 0
}
