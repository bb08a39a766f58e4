package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/queue"
)

func setupTestDB(t *testing.T) (*QueueStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueueStore(db), mock
}

func claimColumns() []string {
	return []string{"item_id", "campaign_id", "ordinal", "recipient",
		"coalesce", "rendered_message", "attempt"}
}

func TestClaimNextReturnsClaimedItem(t *testing.T) {
	s, mock := setupTestDB(t)

	rows := sqlmock.NewRows(claimColumns()).
		AddRow("i1", "c1", 0, "+5511987654321", "Ana", "oi Ana", 0)
	mock.ExpectQuery(`WITH claimed AS`).
		WithArgs("c1", "w1").
		WillReturnRows(rows)

	it, err := s.ClaimNext(context.Background(), "c1", "w1")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "i1", it.ID)
	assert.Equal(t, domain.ItemClaimed, it.Status)
	assert.Equal(t, "Ana", it.RecipientLabel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectQuery(`WITH claimed AS`).
		WithArgs("c1", "w1").
		WillReturnRows(sqlmock.NewRows(claimColumns()))

	it, err := s.ClaimNext(context.Background(), "c1", "w1")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestCompleteSent(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`UPDATE blast_queue_items\s+SET status = 'sent'`).
		WithArgs("i1", "prov-123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Complete(context.Background(), "i1", queue.Sent("prov-123"), 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSentNotClaimed(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`UPDATE blast_queue_items\s+SET status = 'sent'`).
		WithArgs("i1", "prov-123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Complete(context.Background(), "i1", queue.Sent("prov-123"), 3)
	assert.ErrorIs(t, err, queue.ErrNotClaimed)
}

func TestCompleteRetryableFailureRequeues(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`SET status = 'pending', attempt = attempt \+ 1`).
		WithArgs("i1", "timeout", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Complete(context.Background(), "i1", queue.Failed("timeout", true), 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRetryableFailureOverBudgetGoesTerminal(t *testing.T) {
	s, mock := setupTestDB(t)

	// Requeue touches no rows because attempt is at the budget, so the item
	// falls through to terminal failed.
	mock.ExpectExec(`SET status = 'pending', attempt = attempt \+ 1`).
		WithArgs("i1", "timeout", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("i1", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Complete(context.Background(), "i1", queue.Failed("timeout", true), 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePermanentFailureSkipsRequeue(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("i1", "permission revoked").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Complete(context.Background(), "i1", queue.Failed("permission revoked", false), 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseReturnsItemToPending(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`SET status = 'pending', worker_id = NULL`).
		WithArgs("i1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Release(context.Background(), "i1"))
}

func TestStatsGroupsByStatus(t *testing.T) {
	s, mock := setupTestDB(t)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 7).
		AddRow("sent", 2).
		AddRow("failed", 1)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).
		WithArgs("c1").
		WillReturnRows(rows)

	st, err := s.Stats(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Pending: 7, Sent: 2, Failed: 1}, st)
	assert.Equal(t, 10, st.Total())
}

func TestRecoverReleasesStaleClaims(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`WHERE status = 'claimed' AND claimed_at <`).
		WithArgs(float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Recover(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
