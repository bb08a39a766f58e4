package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/queue"
)

// QueueStore implements queue.Store against PostgreSQL. Claims rely on
// FOR UPDATE SKIP LOCKED so concurrent workers on the same campaign never
// observe the same item as claimable.
type QueueStore struct{ db *sql.DB }

// NewQueueStore creates a Postgres-backed queue store.
func NewQueueStore(db *sql.DB) *QueueStore { return &QueueStore{db: db} }

func (s *QueueStore) Append(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	// COPY-style bulk insert inside one transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("blast_queue_items",
		"item_id", "campaign_id", "ordinal", "recipient", "recipient_label",
		"rendered_message", "status", "attempt"))
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}

	for _, it := range items {
		status := it.Status
		if status == "" {
			status = domain.ItemPending
		}
		if _, err := stmt.ExecContext(ctx, it.ID, it.CampaignID, it.Ordinal,
			it.Recipient, it.RecipientLabel, it.RenderedMessage, status, it.Attempt); err != nil {
			stmt.Close()
			return fmt.Errorf("append item: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush append: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close append: %w", err)
	}
	return tx.Commit()
}

func (s *QueueStore) ClaimNext(ctx context.Context, campaignID, workerID string) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE blast_queue_items
			SET status = 'claimed', worker_id = $2, claimed_at = NOW()
			WHERE item_id = (
				SELECT item_id FROM blast_queue_items
				WHERE campaign_id = $1 AND status = 'pending'
				ORDER BY ordinal ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING item_id, campaign_id, ordinal, recipient,
			          COALESCE(recipient_label, ''), rendered_message, attempt
		)
		SELECT * FROM claimed
	`, campaignID, workerID)

	it := &domain.QueueItem{Status: domain.ItemClaimed}
	err := row.Scan(&it.ID, &it.CampaignID, &it.Ordinal, &it.Recipient,
		&it.RecipientLabel, &it.RenderedMessage, &it.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return it, nil
}

func (s *QueueStore) Complete(ctx context.Context, itemID string, out queue.Outcome, maxRetries int) error {
	switch out.Status {
	case domain.ItemSent:
		return s.finish(ctx, `
			UPDATE blast_queue_items
			SET status = 'sent', sent_at = NOW(), provider_message_id = $2,
			    last_error = NULL, worker_id = NULL, claimed_at = NULL
			WHERE item_id = $1 AND status = 'claimed'
		`, itemID, out.ProviderMessageID)

	case domain.ItemSkipped:
		return s.finish(ctx, `
			UPDATE blast_queue_items
			SET status = 'skipped', last_error = $2,
			    worker_id = NULL, claimed_at = NULL
			WHERE item_id = $1 AND status = 'claimed'
		`, itemID, out.Reason)

	case domain.ItemFailed:
		if out.Retryable {
			// Requeue while under budget; the WHERE clause makes requeue
			// vs terminal failure a single atomic decision.
			res, err := s.db.ExecContext(ctx, `
				UPDATE blast_queue_items
				SET status = 'pending', attempt = attempt + 1, last_error = $2,
				    worker_id = NULL, claimed_at = NULL
				WHERE item_id = $1 AND status = 'claimed' AND attempt < $3
			`, itemID, out.Reason, maxRetries)
			if err != nil {
				return fmt.Errorf("requeue item: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
		}
		return s.finish(ctx, `
			UPDATE blast_queue_items
			SET status = 'failed', last_error = $2,
			    worker_id = NULL, claimed_at = NULL
			WHERE item_id = $1 AND status = 'claimed'
		`, itemID, out.Reason)

	default:
		return fmt.Errorf("complete item %s: invalid outcome status %q", itemID, out.Status)
	}
}

func (s *QueueStore) finish(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrNotClaimed
	}
	return nil
}

func (s *QueueStore) Release(ctx context.Context, itemID string) error {
	return s.finish(ctx, `
		UPDATE blast_queue_items
		SET status = 'pending', worker_id = NULL, claimed_at = NULL
		WHERE item_id = $1 AND status = 'claimed'
	`, itemID)
}

func (s *QueueStore) PeekNext(ctx context.Context, campaignID string) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, campaign_id, ordinal, recipient,
		       COALESCE(recipient_label, ''), rendered_message, attempt
		FROM blast_queue_items
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY ordinal ASC
		LIMIT 1
	`, campaignID)

	it := &domain.QueueItem{Status: domain.ItemPending}
	err := row.Scan(&it.ID, &it.CampaignID, &it.Ordinal, &it.Recipient,
		&it.RecipientLabel, &it.RenderedMessage, &it.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek next: %w", err)
	}
	return it, nil
}

func (s *QueueStore) Stats(ctx context.Context, campaignID string) (domain.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM blast_queue_items
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var st domain.QueueStats
	for rows.Next() {
		var status domain.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.QueueStats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case domain.ItemPending:
			st.Pending = n
		case domain.ItemClaimed:
			st.Claimed = n
		case domain.ItemSent:
			st.Sent = n
		case domain.ItemFailed:
			st.Failed = n
		case domain.ItemSkipped:
			st.Skipped = n
		}
	}
	return st, rows.Err()
}

func (s *QueueStore) Recover(ctx context.Context, staleAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blast_queue_items
		SET status = 'pending', worker_id = NULL, claimed_at = NULL
		WHERE status = 'claimed' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`, staleAge.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
