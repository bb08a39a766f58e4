package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the DDL for the blast core tables. Statements are idempotent so
// the migrate command can be re-run safely.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS blast_campaigns (
		campaign_id   UUID PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		channel_id    TEXT NOT NULL,
		name          TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'scheduled',
		total         INT NOT NULL DEFAULT 0,
		sent          INT NOT NULL DEFAULT 0,
		failed        INT NOT NULL DEFAULT 0,
		skipped       INT NOT NULL DEFAULT 0,
		current_index INT NOT NULL DEFAULT 0,
		progress_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
		config        JSONB NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at    TIMESTAMPTZ,
		paused_at     TIMESTAMPTZ,
		pause_reason  TEXT,
		resume_at     TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		last_error    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blast_campaigns_tenant ON blast_campaigns (tenant_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_blast_campaigns_status ON blast_campaigns (status)`,

	`CREATE TABLE IF NOT EXISTS blast_queue_items (
		item_id             UUID PRIMARY KEY,
		campaign_id         UUID NOT NULL REFERENCES blast_campaigns(campaign_id) ON DELETE CASCADE,
		ordinal             INT NOT NULL,
		recipient           TEXT NOT NULL,
		recipient_label     TEXT,
		rendered_message    TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'pending',
		attempt             INT NOT NULL DEFAULT 0,
		last_error          TEXT,
		provider_message_id TEXT,
		sent_at             TIMESTAMPTZ,
		worker_id           TEXT,
		claimed_at          TIMESTAMPTZ,
		UNIQUE (campaign_id, ordinal)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blast_queue_campaign_status ON blast_queue_items (campaign_id, status)`,

	`CREATE TABLE IF NOT EXISTS phone_validation_cache (
		address      TEXT PRIMARY KEY,
		"exists"     BOOLEAN NOT NULL,
		handle       TEXT,
		validated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
