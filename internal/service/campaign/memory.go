package campaign

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// MemoryRepository is an in-process Repository used by tests and single-node
// development mode.
type MemoryRepository struct {
	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{campaigns: make(map[string]*domain.Campaign)}
}

func (r *MemoryRepository) Create(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Campaign
	for _, c := range r.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if f.Offset > 0 && f.Offset < len(all) {
		all = all[f.Offset:]
	} else if f.Offset >= len(all) {
		all = nil
	}
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.campaigns[c.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = c.Status
	cur.Sent = c.Sent
	cur.Failed = c.Failed
	cur.Skipped = c.Skipped
	cur.CurrentIndex = c.CurrentIndex
	cur.ProgressPct = c.ProgressPct
	cur.StartedAt = c.StartedAt
	cur.PausedAt = c.PausedAt
	cur.CompletedAt = c.CompletedAt
	cur.PauseReason = c.PauseReason
	cur.ResumeAt = c.ResumeAt
	cur.LastError = c.LastError
	return nil
}
