package validation

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/blast-orchestrator/internal/pkg/clock"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

// Layer TTLs. L1 is the hot in-process map, L2 the shared Redis tier, L3 the
// durable table.
const (
	l1TTL = time.Hour
	l2TTL = 24 * time.Hour
	l3TTL = 7 * 24 * time.Hour

	redisKeyPrefix = "blast:phone:"
)

// Layer identifies which tier answered a lookup.
type Layer string

const (
	LayerL1 Layer = "l1"
	LayerL2 Layer = "l2"
	LayerL3 Layer = "l3"
)

// Entry is one cached existence check.
type Entry struct {
	Address     string    `json:"address"`
	Exists      bool      `json:"exists"`
	Handle      string    `json:"handle,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Result is a resolved lookup. Layer is empty when the answer came straight
// from the transport.
type Result struct {
	Exists bool
	Handle string
	Layer  Layer
}

// Transport is the slice of the chat transport the cache needs.
type Transport interface {
	ExistsOnPlatform(ctx context.Context, address string) (exists bool, handle string, err error)
}

// DurableStore is the L3 tier. Get returns (nil, nil) on miss.
type DurableStore interface {
	Get(ctx context.Context, address string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, address string) error
}

// Stats counts cache activity since process start.
type Stats struct {
	L1Hits      int64 `json:"l1_hits"`
	L2Hits      int64 `json:"l2_hits"`
	L3Hits      int64 `json:"l3_hits"`
	Misses      int64 `json:"misses"`
	Validations int64 `json:"validations"`
}

// Cache is the 3-tier phone validation cache. L2 (Redis) and L3 (durable) are
// optional; a tier failure is logged and the lookup falls through to the next
// tier. Safe for concurrent use.
type Cache struct {
	mu sync.RWMutex
	l1 map[string]Entry

	rdb     *redis.Client
	durable DurableStore
	clk     clock.Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	bgMu     sync.Mutex
	bgQueue  []bgItem
	bgActive bool

	warmActive atomic.Bool

	l1Hits      atomic.Int64
	l2Hits      atomic.Int64
	l3Hits      atomic.Int64
	misses      atomic.Int64
	validations atomic.Int64
}

type bgItem struct {
	address string
	t       Transport
}

// NewCache creates a cache. rdb and durable may be nil; the cache then runs
// on fewer tiers.
func NewCache(rdb *redis.Client, durable DurableStore, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		l1:      make(map[string]Entry),
		rdb:     rdb,
		durable: durable,
		clk:     clk,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the delay RNG (tests).
func (c *Cache) SetRand(r *rand.Rand) {
	c.rngMu.Lock()
	c.rng = r
	c.rngMu.Unlock()
}

// Lookup checks L1, then L2, then L3. On a hit at a lower tier the upper
// tiers are warmed. Returns nil on miss.
func (c *Cache) Lookup(ctx context.Context, address string) *Result {
	now := c.clk.Now()

	c.mu.RLock()
	e, ok := c.l1[address]
	c.mu.RUnlock()
	if ok {
		if now.Sub(e.ValidatedAt) < l1TTL {
			c.l1Hits.Add(1)
			return &Result{Exists: e.Exists, Handle: e.Handle, Layer: LayerL1}
		}
		c.mu.Lock()
		delete(c.l1, address)
		c.mu.Unlock()
	}

	if e, ok := c.lookupL2(ctx, address, now); ok {
		c.l2Hits.Add(1)
		c.putL1(e)
		return &Result{Exists: e.Exists, Handle: e.Handle, Layer: LayerL2}
	}

	if e, ok := c.lookupL3(ctx, address, now); ok {
		c.l3Hits.Add(1)
		c.putL1(e)
		c.putL2(ctx, e)
		return &Result{Exists: e.Exists, Handle: e.Handle, Layer: LayerL3}
	}

	c.misses.Add(1)
	return nil
}

// Validate resolves an address, asking the transport on a cache miss and
// writing the answer through all tiers. A transport error is returned as-is
// and nothing is cached.
func (c *Cache) Validate(ctx context.Context, address string, t Transport) (*Result, error) {
	if r := c.Lookup(ctx, address); r != nil {
		return r, nil
	}

	exists, handle, err := t.ExistsOnPlatform(ctx, address)
	if err != nil {
		return &Result{Exists: false}, err
	}
	c.validations.Add(1)

	e := Entry{Address: address, Exists: exists, Handle: handle, ValidatedAt: c.clk.Now()}
	c.putL1(e)
	c.putL2(ctx, e)
	c.putL3(ctx, e)
	return &Result{Exists: exists, Handle: handle}, nil
}

// Store records an answer learned outside the cache, such as a send failing
// with a recipient-invalid error, through all tiers.
func (c *Cache) Store(ctx context.Context, address string, exists bool, handle string) {
	e := Entry{Address: address, Exists: exists, Handle: handle, ValidatedAt: c.clk.Now()}
	c.putL1(e)
	c.putL2(ctx, e)
	c.putL3(ctx, e)
}

// EnqueueBackground adds uncached addresses to a FIFO drained one item every
// 3-5 seconds, so refills never burst against the transport. Returns the
// number of addresses actually queued.
func (c *Cache) EnqueueBackground(ctx context.Context, addresses []string, t Transport) int {
	var queued int
	c.bgMu.Lock()
	for _, a := range addresses {
		if c.Lookup(ctx, a) != nil {
			continue
		}
		c.bgQueue = append(c.bgQueue, bgItem{address: a, t: t})
		queued++
	}
	start := queued > 0 && !c.bgActive
	if start {
		c.bgActive = true
	}
	c.bgMu.Unlock()

	if start {
		go c.drainBackground(ctx)
	}
	return queued
}

func (c *Cache) drainBackground(ctx context.Context) {
	for {
		c.bgMu.Lock()
		if len(c.bgQueue) == 0 {
			c.bgActive = false
			c.bgMu.Unlock()
			return
		}
		item := c.bgQueue[0]
		c.bgQueue = c.bgQueue[1:]
		c.bgMu.Unlock()

		if err := c.clk.Sleep(ctx, c.between(3*time.Second, 5*time.Second)); err != nil {
			c.bgMu.Lock()
			c.bgQueue = nil
			c.bgActive = false
			c.bgMu.Unlock()
			return
		}
		if _, err := c.Validate(ctx, item.address, item.t); err != nil {
			logger.Warn("background validation failed",
				"address", logger.RedactPhone(item.address), "error", err.Error())
		}
	}
}

// ProgressiveWarm validates uncached addresses spread uniformly across the
// given duration with 20 percent per-item jitter. At most one warm runs per
// process; returns false if one is already active.
func (c *Cache) ProgressiveWarm(ctx context.Context, addresses []string, t Transport, duration time.Duration) bool {
	if !c.warmActive.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer c.warmActive.Store(false)

		var pending []string
		for _, a := range addresses {
			if c.Lookup(ctx, a) == nil {
				pending = append(pending, a)
			}
		}
		if len(pending) == 0 {
			return
		}

		step := duration / time.Duration(len(pending))
		logger.Info("progressive warm started",
			"addresses", len(pending), "duration", duration.String())

		for _, a := range pending {
			wait := step + time.Duration(float64(step)*0.2*c.uniform())
			if wait < 0 {
				wait = 0
			}
			if err := c.clk.Sleep(ctx, wait); err != nil {
				return
			}
			if _, err := c.Validate(ctx, a, t); err != nil {
				logger.Warn("progressive warm validation failed",
					"address", logger.RedactPhone(a), "error", err.Error())
			}
		}
	}()
	return true
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1Hits:      c.l1Hits.Load(),
		L2Hits:      c.l2Hits.Load(),
		L3Hits:      c.l3Hits.Load(),
		Misses:      c.misses.Load(),
		Validations: c.validations.Load(),
	}
}

func (c *Cache) putL1(e Entry) {
	c.mu.Lock()
	c.l1[e.Address] = e
	c.mu.Unlock()
}

func (c *Cache) lookupL2(ctx context.Context, address string, now time.Time) (Entry, bool) {
	if c.rdb == nil {
		return Entry{}, false
	}
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+address).Bytes()
	if err == redis.Nil {
		return Entry{}, false
	}
	if err != nil {
		logger.Warn("validation cache l2 read failed", "error", err.Error())
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logger.Warn("validation cache l2 decode failed", "error", err.Error())
		return Entry{}, false
	}
	if now.Sub(e.ValidatedAt) >= l2TTL {
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) putL2(ctx context.Context, e Entry) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+e.Address, raw, l2TTL).Err(); err != nil {
		logger.Warn("validation cache l2 write failed", "error", err.Error())
	}
}

func (c *Cache) lookupL3(ctx context.Context, address string, now time.Time) (Entry, bool) {
	if c.durable == nil {
		return Entry{}, false
	}
	e, err := c.durable.Get(ctx, address)
	if err != nil {
		logger.Warn("validation cache l3 read failed", "error", err.Error())
		return Entry{}, false
	}
	if e == nil {
		return Entry{}, false
	}
	if now.Sub(e.ValidatedAt) >= l3TTL {
		// Lazy expiry on read.
		if err := c.durable.Delete(ctx, address); err != nil {
			logger.Warn("validation cache l3 expiry failed", "error", err.Error())
		}
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) putL3(ctx context.Context, e Entry) {
	if c.durable == nil {
		return
	}
	if err := c.durable.Put(ctx, e); err != nil {
		logger.Warn("validation cache l3 write failed", "error", err.Error())
	}
}

// between returns a uniform duration in [lo, hi].
func (c *Cache) between(lo, hi time.Duration) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return lo + time.Duration(c.rng.Int63n(int64(hi-lo)+1))
}

// uniform returns a value in [-1, 1].
func (c *Cache) uniform() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Float64()*2 - 1
}
