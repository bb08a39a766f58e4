package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	campaign_id, tenant_id, channel_id, name, status,
	total, sent, failed, skipped, current_index, progress_pct,
	config, created_at, started_at, paused_at,
	COALESCE(pause_reason, ''), resume_at, completed_at, COALESCE(last_error, '')`

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO blast_campaigns
			(campaign_id, tenant_id, channel_id, name, status, total, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.TenantID, c.ChannelID, c.Name, c.Status, c.Total, cfg, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM blast_campaigns
		WHERE campaign_id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanCampaign(row)
}

func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM blast_campaigns
		WHERE campaign_id = $1
	`, id)
	return scanCampaign(row)
}

func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM blast_campaigns WHERE tenant_id = $1`
	countArgs := []interface{}{tenantID}
	if f.Status != "" {
		countQ += ` AND status = $2`
		countArgs = append(countArgs, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM blast_campaigns WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM blast_campaigns
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) UpdateState(ctx context.Context, c *domain.Campaign) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE blast_campaigns
		SET status = $2, sent = $3, failed = $4, skipped = $5,
		    current_index = $6, progress_pct = $7,
		    started_at = $8, paused_at = $9, completed_at = $10,
		    pause_reason = NULLIF($11, ''), resume_at = $12, last_error = NULLIF($13, '')
		WHERE campaign_id = $1
	`, c.ID, c.Status, c.Sent, c.Failed, c.Skipped,
		c.CurrentIndex, c.ProgressPct,
		c.StartedAt, c.PausedAt, c.CompletedAt,
		c.PauseReason, c.ResumeAt, c.LastError)
	if err != nil {
		return fmt.Errorf("update campaign state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var cfg []byte
	err := s.Scan(
		&c.ID, &c.TenantID, &c.ChannelID, &c.Name, &c.Status,
		&c.Total, &c.Sent, &c.Failed, &c.Skipped, &c.CurrentIndex, &c.ProgressPct,
		&cfg, &c.CreatedAt, &c.StartedAt, &c.PausedAt,
		&c.PauseReason, &c.ResumeAt, &c.CompletedAt, &c.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal campaign config: %w", err)
		}
	}
	return c, nil
}
