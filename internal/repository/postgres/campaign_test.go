package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
)

func setupCampaignRepo(t *testing.T) (*CampaignRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCampaignRepo(db), mock
}

func campaignRows(t *testing.T, c domain.Campaign) *sqlmock.Rows {
	t.Helper()
	return sqlmock.NewRows([]string{
		"campaign_id", "tenant_id", "channel_id", "name", "status",
		"total", "sent", "failed", "skipped", "current_index", "progress_pct",
		"config", "created_at", "started_at", "paused_at",
		"pause_reason", "resume_at", "completed_at", "last_error",
	}).AddRow(
		c.ID, c.TenantID, c.ChannelID, c.Name, c.Status,
		c.Total, c.Sent, c.Failed, c.Skipped, c.CurrentIndex, c.ProgressPct,
		[]byte(`{"account_age":"NEW"}`), c.CreatedAt, c.StartedAt, c.PausedAt,
		c.PauseReason, c.ResumeAt, c.CompletedAt, c.LastError,
	)
}

func TestCampaignRepoGet(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	want := domain.Campaign{
		ID: "c1", TenantID: "t1", ChannelID: "ch1", Name: "launch",
		Status: domain.CampaignRunning, Total: 100, Sent: 40,
		CreatedAt: time.Now().UTC(),
	}
	mock.ExpectQuery(`SELECT .+ FROM blast_campaigns\s+WHERE campaign_id = \$1 AND tenant_id = \$2`).
		WithArgs("c1", "t1").
		WillReturnRows(campaignRows(t, want))

	got, err := repo.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, domain.CampaignRunning, got.Status)
	assert.Equal(t, domain.AgeNew, got.Config.AccountAge)
}

func TestCampaignRepoGetNotFound(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	// An empty result set maps to the service sentinel.
	mock.ExpectQuery(`SELECT .+ FROM blast_campaigns`).
		WithArgs("missing", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))

	_, err := repo.Get(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepoUpdateStateNotFound(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	mock.ExpectExec(`UPDATE blast_campaigns`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateState(context.Background(), &domain.Campaign{ID: "missing"})
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepoListByStatus(t *testing.T) {
	repo, mock := setupCampaignRepo(t)

	rows := campaignRows(t, domain.Campaign{
		ID: "c1", TenantID: "t1", ChannelID: "ch1", Name: "a",
		Status: domain.CampaignRunning, Total: 10,
	})
	mock.ExpectQuery(`WHERE status = \$1`).
		WithArgs(domain.CampaignRunning).
		WillReturnRows(rows)

	out, err := repo.ListByStatus(context.Background(), domain.CampaignRunning)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ID)
}
