package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

// MemoryStore is an in-process Store used by tests and single-node
// development mode. The Postgres store is the production implementation.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	byCamp  map[string][]*memoryItem
	nowFunc func() time.Time
}

type memoryItem struct {
	item      domain.QueueItem
	claimedAt time.Time
	workerID  string
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*memoryItem),
		byCamp:  make(map[string][]*memoryItem),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (tests).
func (s *MemoryStore) SetNowFunc(now func() time.Time) { s.nowFunc = now }

func (s *MemoryStore) Append(_ context.Context, items []domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		cp := it
		if cp.Status == "" {
			cp.Status = domain.ItemPending
		}
		mi := &memoryItem{item: cp}
		s.items[cp.ID] = mi
		s.byCamp[cp.CampaignID] = append(s.byCamp[cp.CampaignID], mi)
	}
	for camp := range s.byCamp {
		list := s.byCamp[camp]
		sort.Slice(list, func(i, j int) bool { return list[i].item.Ordinal < list[j].item.Ordinal })
	}
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, campaignID, workerID string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mi := range s.byCamp[campaignID] {
		if mi.item.Status == domain.ItemPending {
			mi.item.Status = domain.ItemClaimed
			mi.claimedAt = s.nowFunc()
			mi.workerID = workerID
			cp := mi.item
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, itemID string, out Outcome, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mi, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	if mi.item.Status != domain.ItemClaimed {
		return ErrNotClaimed
	}

	switch out.Status {
	case domain.ItemFailed:
		if out.Retryable && mi.item.Attempt < maxRetries {
			mi.item.Attempt++
			mi.item.Status = domain.ItemPending
			mi.item.LastError = out.Reason
			mi.workerID = ""
			return nil
		}
		mi.item.Status = domain.ItemFailed
		mi.item.LastError = out.Reason
	case domain.ItemSent:
		now := s.nowFunc()
		mi.item.Status = domain.ItemSent
		mi.item.SentAt = &now
		mi.item.LastError = ""
	case domain.ItemSkipped:
		mi.item.Status = domain.ItemSkipped
		mi.item.LastError = out.Reason
	default:
		return ErrNotClaimed
	}
	mi.workerID = ""
	return nil
}

func (s *MemoryStore) Release(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mi, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	if mi.item.Status != domain.ItemClaimed {
		return ErrNotClaimed
	}
	mi.item.Status = domain.ItemPending
	mi.workerID = ""
	return nil
}

func (s *MemoryStore) PeekNext(_ context.Context, campaignID string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mi := range s.byCamp[campaignID] {
		if mi.item.Status == domain.ItemPending {
			cp := mi.item
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Stats(_ context.Context, campaignID string) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.QueueStats
	for _, mi := range s.byCamp[campaignID] {
		switch mi.item.Status {
		case domain.ItemPending:
			st.Pending++
		case domain.ItemClaimed:
			st.Claimed++
		case domain.ItemSent:
			st.Sent++
		case domain.ItemFailed:
			st.Failed++
		case domain.ItemSkipped:
			st.Skipped++
		}
	}
	return st, nil
}

func (s *MemoryStore) Recover(_ context.Context, staleAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.nowFunc().Add(-staleAge)
	n := 0
	for _, mi := range s.items {
		if mi.item.Status == domain.ItemClaimed && mi.claimedAt.Before(cutoff) {
			mi.item.Status = domain.ItemPending
			mi.workerID = ""
			n++
		}
	}
	return n, nil
}

// Item returns a copy of one item for test assertions.
func (s *MemoryStore) Item(itemID string) (domain.QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mi, ok := s.items[itemID]
	if !ok {
		return domain.QueueItem{}, false
	}
	return mi.item, true
}

// Items returns copies of all items of a campaign in ordinal order.
func (s *MemoryStore) Items(campaignID string) []domain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(s.byCamp[campaignID]))
	for _, mi := range s.byCamp[campaignID] {
		out = append(out, mi.item)
	}
	return out
}
