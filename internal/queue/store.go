// Package queue defines the durable per-campaign FIFO of recipient work
// items. The store is the single point of cross-worker atomicity: claims and
// terminal transitions rely on its transactional semantics, never on
// in-process locks in the runner.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

var (
	// ErrNotClaimed is returned when completing or releasing an item that is
	// not currently claimed.
	ErrNotClaimed = errors.New("queue item is not claimed")
	// ErrNotFound is returned for unknown item IDs.
	ErrNotFound = errors.New("queue item not found")
)

// Outcome is the terminal decision for one claimed item.
type Outcome struct {
	Status            domain.ItemStatus
	Reason            string
	Retryable         bool
	ProviderMessageID string
}

// Sent builds a success outcome.
func Sent(providerMessageID string) Outcome {
	return Outcome{Status: domain.ItemSent, ProviderMessageID: providerMessageID}
}

// Failed builds a failure outcome. Retryable failures under the retry budget
// return the item to pending.
func Failed(reason string, retryable bool) Outcome {
	return Outcome{Status: domain.ItemFailed, Reason: reason, Retryable: retryable}
}

// Skipped builds a skip outcome.
func Skipped(reason string) Outcome {
	return Outcome{Status: domain.ItemSkipped, Reason: reason}
}

// Store is the durable message queue capability consumed by the runner.
type Store interface {
	// Append inserts items for a campaign. Pre-start only; ordinals must be
	// unique within the campaign.
	Append(ctx context.Context, items []domain.QueueItem) error

	// ClaimNext atomically transitions the lowest-ordinal pending item of
	// the campaign to claimed and returns it. Returns (nil, nil) when no
	// pending item exists. Safe against concurrent claimers.
	ClaimNext(ctx context.Context, campaignID, workerID string) (*domain.QueueItem, error)

	// Complete applies a terminal outcome to a claimed item. A retryable
	// failure with attempt < maxRetries returns the item to pending with
	// attempt incremented; otherwise the outcome status is terminal.
	Complete(ctx context.Context, itemID string, out Outcome, maxRetries int) error

	// Release returns a claimed item to pending without touching its
	// attempt counter. Used when a worker gives an item back unprocessed
	// (pause or stop during the pre-send delay).
	Release(ctx context.Context, itemID string) error

	// PeekNext returns the lowest-ordinal pending item without claiming it,
	// or nil when none remain. Used by dashboard previews only.
	PeekNext(ctx context.Context, campaignID string) (*domain.QueueItem, error)

	// Stats returns the per-status totals for a campaign.
	Stats(ctx context.Context, campaignID string) (domain.QueueStats, error)

	// Recover returns items claimed longer than staleAge ago to pending,
	// covering workers that crashed mid-claim. The attempt counter is not
	// incremented: a crash is not a delivery failure.
	Recover(ctx context.Context, staleAge time.Duration) (int, error)
}
