// Package humansim computes plausible human-timing delays for outbound chat
// messages: typing time derived from message content, probabilistic pauses,
// and rest durations. All randomness comes from the caller-owned RNG so the
// campaign runner can reproduce every pacing decision from a seed.
package humansim

import (
	"math/rand"
	"strings"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

const (
	minTypingTime = 2 * time.Second
	maxTypingTime = 30 * time.Second

	forgotCooldown = time.Hour
)

// Delay is the composite delay for one message. The runner positions Typing,
// TypoCorrection and SecondThoughts before the send and the remaining
// components after it.
type Delay struct {
	Typing         time.Duration
	TypoCorrection time.Duration
	SecondThoughts time.Duration
	PhoneCheck     time.Duration
	Distraction    time.Duration
	Forgot         time.Duration
}

// PreSend is the portion of the delay applied before the transport call.
func (d Delay) PreSend() time.Duration {
	return d.Typing + d.TypoCorrection + d.SecondThoughts
}

// PostSend is the portion applied after the transport call.
func (d Delay) PostSend() time.Duration {
	return d.PhoneCheck + d.Distraction + d.Forgot
}

// Total is the aggregate of all components.
func (d Delay) Total() time.Duration {
	return d.PreSend() + d.PostSend()
}

// Simulator draws human-like delays. One simulator belongs to one campaign:
// the "forgot about the phone" pause is rate-limited to once per hour per
// campaign, which requires remembering the last draw.
type Simulator struct {
	rng        *rand.Rand
	lastForgot time.Time
}

// New creates a simulator over the given RNG.
func New(rng *rand.Rand) *Simulator {
	return &Simulator{rng: rng}
}

// Compose returns the full delay for one message. now is the virtual clock
// reading, used only to enforce the forgot-pause cooldown.
func (s *Simulator) Compose(age domain.AccountAge, message string, now time.Time) Delay {
	d := Delay{Typing: s.typingTime(age, message)}

	if s.rng.Float64() < 0.15 {
		d.TypoCorrection = s.between(1*time.Second, 4*time.Second)
	}
	if s.rng.Float64() < 0.05 {
		d.SecondThoughts = s.between(3*time.Second, 8*time.Second)
	}
	if s.rng.Float64() < 0.10 {
		d.PhoneCheck = s.between(5*time.Second, 15*time.Second)
	}
	if s.rng.Float64() < 0.08 {
		d.Distraction = s.between(10*time.Second, 30*time.Second)
	}
	if s.rng.Float64() < 0.03 && now.Sub(s.lastForgot) >= forgotCooldown {
		d.Forgot = s.between(30*time.Minute, 60*time.Minute)
		s.lastForgot = now
	}

	return d
}

// typingTime models typing at 3-5 chars/s with extra pauses on punctuation
// (200-500 ms) and spaces (50-200 ms), clamped to [2s, 30s]. Without message
// content only the clamp floor region applies.
func (s *Simulator) typingTime(age domain.AccountAge, message string) time.Duration {
	if message == "" {
		return s.between(minTypingTime, 8*time.Second)
	}

	charsPerSec := 3.0 + s.rng.Float64()*2.0
	// New accounts type a touch slower; keeps early sessions conservative.
	if age == domain.AgeNew {
		charsPerSec -= 0.5
	}

	total := time.Duration(float64(len(message)) / charsPerSec * float64(time.Second))
	for _, r := range message {
		switch {
		case strings.ContainsRune(".,!?;:", r):
			total += s.between(200*time.Millisecond, 500*time.Millisecond)
		case r == ' ':
			total += s.between(50*time.Millisecond, 200*time.Millisecond)
		}
	}

	if total < minTypingTime {
		total = minTypingTime
	}
	if total > maxTypingTime {
		total = maxTypingTime
	}
	return total
}

// RestDuration draws a rest length within the configured range using a
// 3-weighted distribution: SHORT 40% (lower third of the range), MEDIUM 40%
// (middle third), LONG 20% (upper third).
func (s *Simulator) RestDuration(restDelay domain.Range) time.Duration {
	lo := time.Duration(restDelay.Min) * time.Minute
	hi := time.Duration(restDelay.Max) * time.Minute
	if hi <= lo {
		return lo
	}
	span := hi - lo
	third := span / 3

	roll := s.rng.Float64()
	switch {
	case roll < 0.40: // SHORT
		return lo + s.between(0, third)
	case roll < 0.80: // MEDIUM
		return lo + third + s.between(0, third)
	default: // LONG
		return lo + 2*third + s.between(0, span-2*third)
	}
}

// ChaosPause draws the per-iteration chaos pauses: distraction 5%,
// app-switching 5%, long-break 10%. Returns zero most of the time.
func (s *Simulator) ChaosPause() time.Duration {
	var total time.Duration
	if s.rng.Float64() < 0.05 {
		total += s.between(10*time.Second, 30*time.Second) // distraction
	}
	if s.rng.Float64() < 0.05 {
		total += s.between(5*time.Second, 15*time.Second) // app switching
	}
	if s.rng.Float64() < 0.10 {
		total += s.between(1*time.Minute, 5*time.Minute) // long break
	}
	return total
}

// between draws uniformly from [lo, hi). hi <= lo degenerates to lo.
func (s *Simulator) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
}
