package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoreStore persists per-channel health scores. Updates must be atomic:
// whichever campaign sent last wins, but no increment may be lost.
type ScoreStore interface {
	// Adjust moves the channel score by delta, clamped to [0,100], and
	// returns the new score. Unknown channels start at 100.
	Adjust(ctx context.Context, channelID string, delta int) (int, error)
	// Score returns the current score without modifying it.
	Score(ctx context.Context, channelID string) (int, error)
	// RecordForcedPause counts a sub-30 forced pause and returns how many
	// occurred within the rolling window.
	RecordForcedPause(ctx context.Context, channelID string, window time.Duration) (int, error)
}

// adjustScript atomically applies a clamped delta. Doing the clamp in Lua
// avoids the GET → compute → SET race between concurrent campaigns on the
// same channel.
var adjustScript = redis.NewScript(`
	local key = KEYS[1]
	local delta = tonumber(ARGV[1])
	local score = tonumber(redis.call("GET", key) or "100")
	score = score + delta
	if score > 100 then score = 100 end
	if score < 0 then score = 0 end
	redis.call("SET", key, score)
	return score
`)

// RedisStore keeps health scores in Redis so every orchestrator process
// observes the same channel health.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed score store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func scoreKey(channelID string) string  { return "health:score:" + channelID }
func pausesKey(channelID string) string { return "health:pauses:" + channelID }

func (s *RedisStore) Adjust(ctx context.Context, channelID string, delta int) (int, error) {
	res, err := adjustScript.Run(ctx, s.client, []string{scoreKey(channelID)}, delta).Int()
	if err != nil {
		return 0, err
	}
	return res, nil
}

func (s *RedisStore) Score(ctx context.Context, channelID string) (int, error) {
	v, err := s.client.Get(ctx, scoreKey(channelID)).Int()
	if err == redis.Nil {
		return 100, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *RedisStore) RecordForcedPause(ctx context.Context, channelID string, window time.Duration) (int, error) {
	key := pausesKey(channelID)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.client.Expire(ctx, key, window)
	}
	return int(n), nil
}

// MemoryStore is the in-process fallback used when Redis is not configured,
// and by tests.
type MemoryStore struct {
	mu     sync.Mutex
	scores map[string]int
	pauses map[string][]time.Time
	now    func() time.Time
}

// NewMemoryStore creates an in-process score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores: make(map[string]int),
		pauses: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// SetNowFunc overrides the time source (tests).
func (s *MemoryStore) SetNowFunc(now func() time.Time) { s.now = now }

func (s *MemoryStore) Adjust(_ context.Context, channelID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[channelID]
	if !ok {
		score = 100
	}
	score += delta
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	s.scores[channelID] = score
	return score, nil
}

func (s *MemoryStore) Score(_ context.Context, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[channelID]
	if !ok {
		return 100, nil
	}
	return score, nil
}

func (s *MemoryStore) RecordForcedPause(_ context.Context, channelID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	kept := s.pauses[channelID][:0]
	for _, t := range s.pauses[channelID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, s.now())
	s.pauses[channelID] = kept
	return len(kept), nil
}
