// Package health tracks a 0-100 health score per outbound channel and
// translates it into throttling decisions: delay multipliers, concurrency
// caps, and forced rest intervals for channels that look at risk.
package health

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	successDelta = +1
	failureDelta = -5

	// maxQualityPenalty bounds a connection-quality downgrade.
	maxQualityPenalty = 30

	// throttleBelow applies the 1.5x delay multiplier and concurrency cap.
	throttleBelow = 70
	// pauseBelow forces a 2-4 h rest.
	pauseBelow = 50
	// hardPauseBelow forces an escalating multi-hour rest.
	hardPauseBelow = 30

	// repeatWindow is the rolling window for counting sub-30 pauses.
	repeatWindow = 7 * 24 * time.Hour

	// Recovery mode overrides applied on top of campaign config while the
	// channel is throttled: the contact delay floor and daily cap fall back
	// to the most conservative (NEW) tier.
	recoveryMinContactDelaySeconds = 90
	recoveryDailyCap               = 40
)

// Assessment is the throttling decision after one score update.
type Assessment struct {
	Score           int
	DelayMultiplier float64
	ConcurrencyCap  int // 0 means unrestricted
	ForcedPause     time.Duration
	RecoveryActive  bool

	// Overrides honored by the runner only while RecoveryActive.
	MinContactDelaySeconds int
	DailyCap               int
}

// Monitor is the account health monitor and recovery controller.
type Monitor struct {
	store ScoreStore

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMonitor creates a monitor over the given store and RNG.
func NewMonitor(store ScoreStore, rng *rand.Rand) *Monitor {
	return &Monitor{store: store, rng: rng}
}

// OnSuccess records a successful send for the channel.
func (m *Monitor) OnSuccess(ctx context.Context, channelID string) (Assessment, error) {
	score, err := m.store.Adjust(ctx, channelID, successDelta)
	if err != nil {
		return Assessment{}, err
	}
	return m.assess(ctx, channelID, score)
}

// OnFailure records a failed send for the channel.
func (m *Monitor) OnFailure(ctx context.Context, channelID string) (Assessment, error) {
	score, err := m.store.Adjust(ctx, channelID, failureDelta)
	if err != nil {
		return Assessment{}, err
	}
	return m.assess(ctx, channelID, score)
}

// OnQualityDowngrade records a connection-quality drop, subtracting up to 30
// points.
func (m *Monitor) OnQualityDowngrade(ctx context.Context, channelID string, penalty int) (Assessment, error) {
	if penalty < 0 {
		penalty = 0
	}
	if penalty > maxQualityPenalty {
		penalty = maxQualityPenalty
	}
	score, err := m.store.Adjust(ctx, channelID, -penalty)
	if err != nil {
		return Assessment{}, err
	}
	return m.assess(ctx, channelID, score)
}

// Assess returns the throttling decision for the current score without
// changing it.
func (m *Monitor) Assess(ctx context.Context, channelID string) (Assessment, error) {
	score, err := m.store.Score(ctx, channelID)
	if err != nil {
		return Assessment{}, err
	}
	return m.assess(ctx, channelID, score)
}

func (m *Monitor) assess(ctx context.Context, channelID string, score int) (Assessment, error) {
	a := Assessment{Score: score, DelayMultiplier: 1.0}

	if score >= throttleBelow {
		return a, nil
	}

	a.DelayMultiplier = 1.5
	a.ConcurrencyCap = 1
	a.RecoveryActive = true
	a.MinContactDelaySeconds = recoveryMinContactDelaySeconds
	a.DailyCap = recoveryDailyCap

	switch {
	case score < hardPauseBelow:
		repeats, err := m.store.RecordForcedPause(ctx, channelID, repeatWindow)
		if err != nil {
			return a, err
		}
		a.ForcedPause = escalatingPause(repeats)
	case score < pauseBelow:
		a.ForcedPause = m.randomPause(2*time.Hour, 4*time.Hour)
	}

	return a, nil
}

// escalatingPause maps the repeat count within 7 days to a forced rest:
// first offense 6 h, then 12 h, 24 h, and 48 h for chronic offenders.
func escalatingPause(repeats int) time.Duration {
	switch {
	case repeats <= 1:
		return 6 * time.Hour
	case repeats == 2:
		return 12 * time.Hour
	case repeats == 3:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

func (m *Monitor) randomPause(lo, hi time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo + time.Duration(m.rng.Int63n(int64(hi-lo)))
}
