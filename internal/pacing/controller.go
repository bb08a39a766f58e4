// Package pacing converts observed campaign outcomes into a multiplicative
// delay factor. The controller keeps a per-campaign exponential moving
// average of the failure rate and promotes or demotes a categorical risk
// tier as the trend moves.
package pacing

import (
	"math"
	"sync"
)

// Risk is the categorical delay risk tier.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Factor maps a risk tier to its delay multiplier.
func (r Risk) Factor() float64 {
	switch r {
	case RiskCritical:
		return 3.0
	case RiskHigh:
		return 2.0
	case RiskMedium:
		return 1.5
	default:
		return 1.0
	}
}

const (
	// emaHalfLife is the failure-rate EMA half-life in messages.
	emaHalfLife = 20

	// promoteThreshold promotes one tier when the EMA reaches it.
	promoteThreshold = 0.15

	// demoteThreshold must hold for demoteStreak consecutive messages
	// before the tier drops.
	demoteThreshold = 0.03
	demoteStreak    = 10

	// promoteHold is the minimum number of messages a promotion sticks for.
	promoteHold = 10

	// maxFactor is the hard ceiling regardless of tier or external signal.
	maxFactor = 5.0
)

// emaAlpha is derived from the half-life: after emaHalfLife observations the
// weight of an old sample has decayed by half.
var emaAlpha = 1 - math.Pow(0.5, 1.0/float64(emaHalfLife))

type session struct {
	ema       float64
	tier      Risk
	count     int
	holdUntil int // message count before which demotion is not allowed
	lowStreak int
	external  Risk
}

// Controller learns per-campaign delay factors. Safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{sessions: make(map[string]*session)}
}

// Observe records one send outcome for a campaign.
func (c *Controller) Observe(campaignID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session(campaignID)
	s.count++

	sample := 0.0
	if !success {
		sample = 1.0
	}
	s.ema = s.ema*(1-emaAlpha) + sample*emaAlpha

	if s.ema >= promoteThreshold && s.tier < RiskCritical {
		s.tier++
		s.holdUntil = s.count + promoteHold
		s.lowStreak = 0
		return
	}

	if s.ema <= demoteThreshold {
		s.lowStreak++
	} else {
		s.lowStreak = 0
	}

	if s.lowStreak >= demoteStreak && s.count >= s.holdUntil && s.tier > RiskLow {
		s.tier--
		s.lowStreak = 0
	}
}

// SetExternalRisk applies a floor tier from an external risk assessor. The
// effective tier is the max of the learned and external tiers.
func (c *Controller) SetExternalRisk(campaignID string, risk Risk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session(campaignID).external = risk
}

// Factor returns the delay multiplier for a campaign, capped at 5.0.
func (c *Controller) Factor(campaignID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[campaignID]
	if !ok {
		return RiskLow.Factor()
	}

	tier := s.tier
	if s.external > tier {
		tier = s.external
	}
	return math.Min(tier.Factor(), maxFactor)
}

// Tier returns the current effective risk tier for a campaign.
func (c *Controller) Tier(campaignID string) Risk {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[campaignID]
	if !ok {
		return RiskLow
	}
	if s.external > s.tier {
		return s.external
	}
	return s.tier
}

// Forget drops the per-campaign state once the campaign is terminal.
func (c *Controller) Forget(campaignID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, campaignID)
}

func (c *Controller) session(campaignID string) *session {
	s, ok := c.sessions[campaignID]
	if !ok {
		s = &session{tier: RiskLow}
		c.sessions[campaignID] = s
	}
	return s
}
