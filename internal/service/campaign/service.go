package campaign

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
	"github.com/ignite/blast-orchestrator/internal/queue"
)

// CreateInput is a campaign creation request.
type CreateInput struct {
	TenantID        string             `json:"tenant_id"`
	ChannelID       string             `json:"channel_id"`
	Name            string             `json:"campaign_name"`
	MessageTemplate string             `json:"message_template"`
	Recipients      []domain.Recipient `json:"recipients"`
	Config          domain.ConfigInput `json:"config"`
}

// Service implements campaign control-plane logic. Safe for concurrent use
// if the underlying repository and queue store are.
type Service struct {
	repo   Repository
	queue  queue.Store
	engine *liquid.Engine

	// seedBase perturbs the per-campaign shuffle seed. Zero (tests) makes
	// the shuffle a pure function of the campaign ID.
	seedBase int64
}

// NewService creates a campaign service.
func NewService(repo Repository, q queue.Store) *Service {
	return &Service{
		repo:     repo,
		queue:    q,
		engine:   liquid.NewEngine(),
		seedBase: time.Now().UnixNano(),
	}
}

// SetSeedBase overrides the shuffle seed perturbation (tests).
func (s *Service) SetSeedBase(base int64) { s.seedBase = base }

// Create validates the request, renders the message per recipient, resolves
// config over channel-age defaults, applies the partial ordinal shuffle and
// persists the campaign plus its queue. The campaign starts in scheduled
// status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if in.TenantID == "" {
		return nil, domain.NewError(domain.KindValidation, "tenant_id is required")
	}
	if in.ChannelID == "" {
		return nil, domain.NewError(domain.KindValidation, "channel_id is required")
	}
	if in.Name == "" {
		return nil, domain.NewError(domain.KindValidation, "campaign_name is required")
	}
	if in.MessageTemplate == "" {
		return nil, domain.NewError(domain.KindValidation, "message_template is required")
	}
	if len(in.Recipients) == 0 {
		return nil, domain.NewError(domain.KindValidation, "recipients must not be empty")
	}
	for i, r := range in.Recipients {
		if r.Address == "" {
			return nil, domain.NewError(domain.KindValidation, "recipient %d has no address", i)
		}
	}

	cfg := domain.ResolveConfig(in.Config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := s.engine.ParseString(in.MessageTemplate)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "invalid message template: %v", err)
	}

	c := &domain.Campaign{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		ChannelID: in.ChannelID,
		Name:      in.Name,
		Status:    domain.CampaignScheduled,
		Total:     len(in.Recipients),
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}

	ordinals := s.shuffledOrdinals(c.ID, len(in.Recipients))

	items := make([]domain.QueueItem, len(in.Recipients))
	for i, r := range in.Recipients {
		bindings := map[string]any{"recipient": r.Label}
		for k, v := range r.Variables {
			bindings[k] = v
		}
		rendered, err := tmpl.RenderString(bindings)
		if err != nil {
			return nil, domain.NewError(domain.KindValidation,
				"render failed for recipient %d: %v", i, err)
		}
		items[i] = domain.QueueItem{
			ID:              uuid.New().String(),
			CampaignID:      c.ID,
			Ordinal:         ordinals[i],
			Recipient:       r.Address,
			RecipientLabel:  r.Label,
			RenderedMessage: rendered,
			Status:          domain.ItemPending,
		}
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if err := s.queue.Append(ctx, items); err != nil {
		return nil, fmt.Errorf("enqueue recipients: %w", err)
	}

	logger.Info("campaign created",
		"campaign_id", c.ID,
		"tenant_id", c.TenantID,
		"total", c.Total,
		"account_age", string(cfg.AccountAge))
	return c, nil
}

// Get returns a campaign with its derived totals refreshed from the queue.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	c.ProgressPct = c.Progress()
	return c, nil
}

// List returns campaigns for a tenant.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, tenantID, f)
}

// Next previews the next recipient to be claimed, or nil when the queue is
// exhausted.
func (s *Service) Next(ctx context.Context, tenantID, id string) (*domain.QueueItem, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.queue.PeekNext(ctx, id)
}

// shuffledOrdinals returns the ordinal for each recipient index. A partial
// Fisher-Yates permutes 15-20% of positions: strictly sequential sends are a
// detection signature, while a full shuffle would wreck per-segment
// analytics. Seeded per campaign so tests can reproduce the schedule.
func (s *Service) shuffledOrdinals(campaignID string, n int) []int {
	ordinals := make([]int, n)
	for i := range ordinals {
		ordinals[i] = i
	}
	if n < 2 {
		return ordinals
	}

	h := fnv.New64a()
	h.Write([]byte(campaignID))
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ s.seedBase))

	frac := 0.15 + rng.Float64()*0.05
	k := int(float64(n) * frac)
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}

	// Pick k distinct positions, then Fisher-Yates their ordinal values
	// among themselves. Everything else stays in order.
	positions := rng.Perm(n)[:k]
	for i := k - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		ordinals[positions[i]], ordinals[positions[j]] = ordinals[positions[j]], ordinals[positions[i]]
	}
	return ordinals
}
