package campaign

import (
	"context"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// ListFilter narrows List results.
type ListFilter struct {
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

// Repository is the persistence boundary for campaigns. The Postgres
// implementation lives in internal/repository/postgres; tests use the
// in-memory one.
type Repository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	// Get returns a campaign scoped to its tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	// GetByID returns a campaign without tenant scoping (runner internals).
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error)
	// ListByStatus returns all campaigns in a given status (boot recovery,
	// resume scheduling).
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	// UpdateState persists the mutable runtime fields of a campaign:
	// status, counters, progress, lifecycle timestamps, pause context and
	// last error. Immutable fields (config, identity) are never rewritten.
	UpdateState(ctx context.Context, c *domain.Campaign) error
}
