package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/distlock"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
)

func newManager(f *fixture) *Manager {
	return NewManager(f.deps, nil, nil)
}

func TestManagerStartDrivesCampaignToCompletion(t *testing.T) {
	f := newFixture(t, true)
	f.seedCampaign(t, "m1", 3, fastConfig())
	m := newManager(f)

	require.NoError(t, m.Start(context.Background(), "t1", "m1"))
	require.Len(t, m.Handles(), 1)

	require.Eventually(t, func() bool {
		c, err := f.repo.Get(context.Background(), "t1", "m1")
		return err == nil && c.Status == domain.CampaignCompleted
	}, 5*time.Second, 2*time.Millisecond)

	// The prune sweep releases terminal runners and their locks.
	m.prune(context.Background())
	assert.Empty(t, m.Handles())

	lock := distlock.NewLock(nil, nil, "campaign:m1", time.Minute)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "campaign lock must be free after prune")
	lock.Release(context.Background())
}

func TestManagerStartRejectsForeignOwnership(t *testing.T) {
	f := newFixture(t, true)
	f.seedCampaign(t, "m2", 1, fastConfig())
	m := newManager(f)

	// Another process holds the ownership lock.
	foreign := distlock.NewLock(nil, nil, "campaign:m2", time.Minute)
	ok, err := foreign.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer foreign.Release(context.Background())

	err = m.Start(context.Background(), "t1", "m2")
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindInternal, derr.Kind)
	assert.Empty(t, m.Handles())
}

func TestManagerTenantIsolation(t *testing.T) {
	f := newFixture(t, true)
	f.seedCampaign(t, "m3", 1, fastConfig())
	m := newManager(f)

	err := m.Start(context.Background(), "other-tenant", "m3")
	require.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestManagerStopWithoutRunner(t *testing.T) {
	f := newFixture(t, true)
	f.seedCampaign(t, "m4", 2, fastConfig())
	m := newManager(f)

	require.NoError(t, m.Stop(context.Background(), "t1", "m4"))
	c, err := f.repo.Get(context.Background(), "t1", "m4")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, c.Status)

	st, _ := f.queue.Stats(context.Background(), "m4")
	assert.Equal(t, 2, st.Pending)
}

func TestManagerPauseUnownedRunningCampaign(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "m5", 1, fastConfig())
	camp.Status = domain.CampaignRunning
	require.NoError(t, f.repo.UpdateState(context.Background(), camp))
	m := newManager(f)

	err := m.Pause(context.Background(), "t1", "m5", "")
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindInternal, derr.Kind)
}

func TestBootRecoveryAdoptsRunningCampaigns(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "m6", 3, fastConfig())
	camp.Status = domain.CampaignRunning
	now := f.clk.Now()
	camp.StartedAt = &now
	require.NoError(t, f.repo.UpdateState(context.Background(), camp))

	// One item was claimed by a worker that died with the old process.
	stale, err := f.queue.ClaimNext(context.Background(), "m6", "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, stale)
	f.clk.Advance(10 * time.Minute)

	m := newManager(f)
	require.NoError(t, m.BootRecovery(context.Background(), 5*time.Minute))
	require.Len(t, m.Handles(), 1)

	require.Eventually(t, func() bool {
		c, err := f.repo.Get(context.Background(), "t1", "m6")
		return err == nil && c.Status == domain.CampaignCompleted
	}, 5*time.Second, 2*time.Millisecond)

	c, _ := f.repo.Get(context.Background(), "t1", "m6")
	assert.Equal(t, 3, c.Sent, "the stale claim must be recovered and sent")
	m.prune(context.Background())
}

func TestResumeSchedulerResumesDueCampaigns(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "m7", 2, fastConfig())
	camp.Status = domain.CampaignPaused
	pausedAt := f.clk.Now().Add(-2 * time.Hour)
	resumeAt := f.clk.Now().Add(-time.Minute)
	camp.PausedAt = &pausedAt
	camp.ResumeAt = &resumeAt
	camp.PauseReason = domain.PauseReasonDailyLimit
	require.NoError(t, f.repo.UpdateState(context.Background(), camp))

	m := newManager(f)
	m.resumeDue(context.Background())

	require.Eventually(t, func() bool {
		c, err := f.repo.Get(context.Background(), "t1", "m7")
		return err == nil && c.Status == domain.CampaignCompleted
	}, 5*time.Second, 2*time.Millisecond)
	m.prune(context.Background())
}

func TestResumeSchedulerLeavesFutureResumesAlone(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "m8", 1, fastConfig())
	camp.Status = domain.CampaignPaused
	resumeAt := f.clk.Now().Add(time.Hour)
	camp.ResumeAt = &resumeAt
	require.NoError(t, f.repo.UpdateState(context.Background(), camp))

	m := newManager(f)
	m.resumeDue(context.Background())

	c, _ := f.repo.Get(context.Background(), "t1", "m8")
	assert.Equal(t, domain.CampaignPaused, c.Status)
	assert.Empty(t, m.Handles())
}

func TestShutdownLeavesCampaignRunningForNextProcess(t *testing.T) {
	f := newFixture(t, false) // blocking clock parks the worker mid-sleep
	cfg := fastConfig()
	cfg.ContactDelay = domain.Range{Min: 600, Max: 600}
	f.seedCampaign(t, "m9", 2, cfg)

	m := newManager(f)
	require.NoError(t, m.Start(context.Background(), "t1", "m9"))
	require.Eventually(t, func() bool { return f.clk.Sleepers() == 1 },
		2*time.Second, time.Millisecond)

	m.Shutdown(context.Background())
	assert.Empty(t, m.Handles())

	// No transition was written: the next process adopts it on boot.
	c, _ := f.repo.Get(context.Background(), "t1", "m9")
	assert.Equal(t, domain.CampaignRunning, c.Status)

	f.clk.SetAutoAdvance(true)
	m2 := newManager(f)
	require.NoError(t, m2.BootRecovery(context.Background(), time.Nanosecond))
	require.Eventually(t, func() bool {
		c, err := f.repo.Get(context.Background(), "t1", "m9")
		return err == nil && c.Status == domain.CampaignCompleted
	}, 5*time.Second, 2*time.Millisecond)
	m2.prune(context.Background())
}
