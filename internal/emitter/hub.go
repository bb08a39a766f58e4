package emitter

import (
	"sync"
	"sync/atomic"

	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

const defaultSubscriberBuffer = 64

// Hub routes events to in-process subscribers keyed by tenant. Publish never
// blocks: a subscriber whose buffer is full is unsubscribed and its channel
// closed, so runners keep their pace no matter how slow the UI side is.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscriber]struct{}
	dropped atomic.Int64
}

// Subscriber is one event stream attached to a tenant.
type Subscriber struct {
	hub      *Hub
	tenantID string
	ch       chan Event
	once     sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe attaches a new subscriber for a tenant. buffer <= 0 uses the
// default. The caller must Close the subscriber when done.
func (h *Hub) Subscribe(tenantID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &Subscriber{hub: h, tenantID: tenantID, ch: make(chan Event, buffer)}

	h.mu.Lock()
	set, ok := h.subs[tenantID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[tenantID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Events is the subscriber's stream. The channel closes when the subscriber
// is dropped or Close is called.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close detaches the subscriber.
func (s *Subscriber) Close() {
	s.hub.remove(s)
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[s.tenantID]; ok {
		if _, live := set[s]; live {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.tenantID)
			}
			s.once.Do(func() { close(s.ch) })
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber of its tenant. Subscribers
// that cannot keep up are dropped.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	set := h.subs[e.TenantID]
	var slow []*Subscriber
	for s := range set {
		select {
		case s.ch <- e:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.dropped.Add(1)
		logger.Warn("dropping slow event subscriber", "tenant_id", s.tenantID)
		h.remove(s)
	}
}

// SubscriberCount returns the number of live subscribers for a tenant.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// Dropped returns how many subscribers have been dropped since start.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
