package runner

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/distlock"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

const lockTTL = 30 * time.Minute

// Manager owns the live runners of this process. Every running campaign is
// held under a distributed ownership lock so two processes never drive the
// same campaign.
type Manager struct {
	deps Deps
	rdb  *redis.Client
	db   *sql.DB

	mu      sync.Mutex
	runners map[string]*managed
}

type managed struct {
	runner *Runner
	lock   distlock.DistLock
}

// NewManager creates a manager. rdb and db feed the ownership locks; either
// may be nil as long as one backend is available.
func NewManager(deps Deps, rdb *redis.Client, db *sql.DB) *Manager {
	return &Manager{
		deps:    deps,
		rdb:     rdb,
		db:      db,
		runners: make(map[string]*managed),
	}
}

// Start moves a scheduled campaign to running under this process.
func (m *Manager) Start(ctx context.Context, tenantID, campaignID string) error {
	if r := m.lookup(tenantID, campaignID); r != nil {
		return r.Start(ctx)
	}

	camp, err := m.deps.Repo.Get(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if camp.Status != domain.CampaignScheduled {
		return domain.NewError(domain.KindIllegalTransition,
			"cannot start a %s campaign", camp.Status)
	}

	md, err := m.claim(ctx, camp)
	if err != nil {
		return err
	}
	if err := md.runner.Start(ctx); err != nil {
		m.unclaim(ctx, campaignID)
		return err
	}
	return nil
}

// Pause suspends a running campaign.
func (m *Manager) Pause(ctx context.Context, tenantID, campaignID, reason string) error {
	if reason == "" {
		reason = domain.PauseReasonManual
	}
	if r := m.lookup(tenantID, campaignID); r != nil {
		return r.Pause(ctx, reason, nil)
	}

	camp, err := m.deps.Repo.Get(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if camp.Status == domain.CampaignRunning {
		return domain.NewError(domain.KindInternal,
			"campaign is owned by another process")
	}
	return domain.NewError(domain.KindIllegalTransition,
		"cannot pause a %s campaign", camp.Status)
}

// Resume restarts a paused campaign, adopting it into this process if no
// runner holds it yet.
func (m *Manager) Resume(ctx context.Context, tenantID, campaignID string) error {
	if r := m.lookup(tenantID, campaignID); r != nil {
		return r.Resume(ctx)
	}

	camp, err := m.deps.Repo.Get(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if camp.Status != domain.CampaignPaused {
		return domain.NewError(domain.KindIllegalTransition,
			"cannot resume a %s campaign", camp.Status)
	}

	md, err := m.claim(ctx, camp)
	if err != nil {
		return err
	}
	if err := md.runner.Resume(ctx); err != nil {
		m.unclaim(ctx, campaignID)
		return err
	}
	return nil
}

// Stop terminates a campaign. Pending items are preserved.
func (m *Manager) Stop(ctx context.Context, tenantID, campaignID string) error {
	if r := m.lookup(tenantID, campaignID); r != nil {
		err := r.Stop(ctx)
		m.unclaim(ctx, campaignID)
		return err
	}

	camp, err := m.deps.Repo.Get(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if camp.Status == domain.CampaignRunning {
		return domain.NewError(domain.KindInternal,
			"campaign is owned by another process")
	}
	// Scheduled or paused campaigns have no worker anywhere; transition
	// directly.
	return New(m.deps, camp).Stop(ctx)
}

// Handles returns the live runners for the supervision loops.
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.runners))
	for _, md := range m.runners {
		out = append(out, md.runner)
	}
	return out
}

// BootRecovery reclaims work left over from a previous process: stale
// claimed items return to pending and campaigns still marked running are
// adopted.
func (m *Manager) BootRecovery(ctx context.Context, staleAge time.Duration) error {
	n, err := m.deps.Queue.Recover(ctx, staleAge)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("recovered stale queue claims", "count", n)
	}

	running, err := m.deps.Repo.ListByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		return err
	}
	for i := range running {
		camp := running[i]
		md, err := m.claim(ctx, &camp)
		if err != nil {
			logger.Warn("boot recovery skipped campaign",
				"campaign_id", camp.ID, "error", err.Error())
			continue
		}
		md.runner.Adopt()
		logger.Info("adopted running campaign", "campaign_id", camp.ID)
	}
	return nil
}

// RunResumeScheduler periodically resumes paused campaigns whose resume time
// has passed, and prunes terminal runners.
func (m *Manager) RunResumeScheduler(ctx context.Context, interval time.Duration) {
	for {
		if err := m.deps.Clock.Sleep(ctx, interval); err != nil {
			return
		}
		m.resumeDue(ctx)
		m.prune(ctx)
	}
}

// RunQueueRecovery periodically returns stale claimed items to pending,
// covering workers lost to crashes in other processes.
func (m *Manager) RunQueueRecovery(ctx context.Context, interval, staleAge time.Duration) {
	for {
		if err := m.deps.Clock.Sleep(ctx, interval); err != nil {
			return
		}
		if n, err := m.deps.Queue.Recover(ctx, staleAge); err != nil {
			logger.Warn("queue recovery sweep failed", "error", err.Error())
		} else if n > 0 {
			logger.Info("recovered stale queue claims", "count", n)
		}
	}
}

func (m *Manager) resumeDue(ctx context.Context) {
	paused, err := m.deps.Repo.ListByStatus(ctx, domain.CampaignPaused)
	if err != nil {
		logger.Warn("resume scheduler list failed", "error", err.Error())
		return
	}
	now := m.deps.Clock.Now()
	for i := range paused {
		camp := paused[i]
		if camp.ResumeAt == nil || camp.ResumeAt.After(now) {
			continue
		}
		if err := m.Resume(ctx, camp.TenantID, camp.ID); err != nil {
			logger.Warn("auto-resume failed",
				"campaign_id", camp.ID, "error", err.Error())
		} else {
			logger.Info("auto-resumed campaign",
				"campaign_id", camp.ID, "pause_reason", camp.PauseReason)
		}
	}
}

// prune drops terminal runners from the map, releasing their locks, and
// extends the locks of the survivors.
func (m *Manager) prune(ctx context.Context) {
	m.mu.Lock()
	var done []string
	for id, md := range m.runners {
		if md.runner.status().Terminal() {
			done = append(done, id)
			continue
		}
		if rl, ok := md.lock.(*distlock.RedisLock); ok {
			if err := rl.Extend(ctx, lockTTL); err != nil {
				logger.Warn("extend campaign lock failed",
					"campaign_id", id, "error", err.Error())
			}
		}
	}
	m.mu.Unlock()

	for _, id := range done {
		m.unclaim(ctx, id)
	}
}

// Shutdown halts all workers without state transitions; the campaigns stay
// running in the database for the next process to adopt.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	runners := make([]*managed, 0, len(m.runners))
	ids := make([]string, 0, len(m.runners))
	for id, md := range m.runners {
		runners = append(runners, md)
		ids = append(ids, id)
	}
	m.runners = make(map[string]*managed)
	m.mu.Unlock()

	for i, md := range runners {
		md.runner.halt()
		if err := md.lock.Release(ctx); err != nil {
			logger.Warn("release campaign lock failed",
				"campaign_id", ids[i], "error", err.Error())
		}
	}
}

// lookup returns the live runner for a campaign, nil when this process does
// not own it or the tenant does not match.
func (m *Manager) lookup(tenantID, campaignID string) *Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.runners[campaignID]
	if !ok {
		return nil
	}
	if md.runner.Snapshot().TenantID != tenantID {
		return nil
	}
	return md.runner
}

// claim takes the ownership lock and registers a runner for the campaign.
func (m *Manager) claim(ctx context.Context, camp *domain.Campaign) (*managed, error) {
	lock := distlock.NewLock(m.rdb, m.db, "campaign:"+camp.ID, lockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewError(domain.KindInternal,
			"campaign is owned by another process")
	}

	md := &managed{runner: New(m.deps, camp), lock: lock}
	m.mu.Lock()
	if existing, dup := m.runners[camp.ID]; dup {
		m.mu.Unlock()
		lock.Release(ctx)
		return existing, nil
	}
	m.runners[camp.ID] = md
	m.mu.Unlock()
	return md, nil
}

// unclaim removes the runner and releases its lock.
func (m *Manager) unclaim(ctx context.Context, campaignID string) {
	m.mu.Lock()
	md, ok := m.runners[campaignID]
	delete(m.runners, campaignID)
	m.mu.Unlock()
	if ok {
		if err := md.lock.Release(ctx); err != nil {
			logger.Warn("release campaign lock failed",
				"campaign_id", campaignID, "error", err.Error())
		}
	}
}
