package humansim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/blast-orchestrator/internal/domain"
)

func TestTypingTimeBounds(t *testing.T) {
	sim := New(rand.New(rand.NewSource(42)))

	tests := []struct {
		name    string
		message string
	}{
		{"empty", ""},
		{"short", "hi"},
		{"medium", "Hello there, how are you doing today?"},
		{"long punctuation heavy", "Wow!!! Really??? Yes... no, wait; maybe: ok. " + string(make([]byte, 500))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				d := sim.typingTime(domain.AgeEstablished, tt.message)
				assert.GreaterOrEqual(t, d, 2*time.Second)
				assert.LessOrEqual(t, d, 30*time.Second)
			}
		})
	}
}

func TestComposeComponentsWithinRanges(t *testing.T) {
	sim := New(rand.New(rand.NewSource(7)))
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		d := sim.Compose(domain.AgeWarming, "Quick update for you.", now)

		if d.TypoCorrection != 0 {
			assert.GreaterOrEqual(t, d.TypoCorrection, time.Second)
			assert.Less(t, d.TypoCorrection, 4*time.Second)
		}
		if d.SecondThoughts != 0 {
			assert.GreaterOrEqual(t, d.SecondThoughts, 3*time.Second)
			assert.Less(t, d.SecondThoughts, 8*time.Second)
		}
		if d.PhoneCheck != 0 {
			assert.GreaterOrEqual(t, d.PhoneCheck, 5*time.Second)
			assert.Less(t, d.PhoneCheck, 15*time.Second)
		}
		if d.Distraction != 0 {
			assert.GreaterOrEqual(t, d.Distraction, 10*time.Second)
			assert.Less(t, d.Distraction, 30*time.Second)
		}
		if d.Forgot != 0 {
			assert.GreaterOrEqual(t, d.Forgot, 30*time.Minute)
			assert.Less(t, d.Forgot, time.Hour)
		}
		assert.Equal(t, d.Total(), d.PreSend()+d.PostSend())
	}
}

func TestForgotPauseAtMostOncePerHour(t *testing.T) {
	sim := New(rand.New(rand.NewSource(3)))
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	forgots := 0
	for i := 0; i < 5000; i++ {
		d := sim.Compose(domain.AgeNew, "hello", now)
		if d.Forgot != 0 {
			forgots++
		}
	}
	// Virtual time never moved, so the cooldown allows a single draw.
	assert.Equal(t, 1, forgots)

	// After an hour of virtual time a second draw becomes possible again.
	later := now.Add(time.Hour + time.Minute)
	forgots = 0
	for i := 0; i < 5000; i++ {
		d := sim.Compose(domain.AgeNew, "hello", later)
		if d.Forgot != 0 {
			forgots++
		}
	}
	assert.Equal(t, 1, forgots)
}

func TestRestDurationStaysInRange(t *testing.T) {
	sim := New(rand.New(rand.NewSource(99)))
	r := domain.Range{Min: 60, Max: 120}

	var shorts, longs int
	for i := 0; i < 3000; i++ {
		d := sim.RestDuration(r)
		require.GreaterOrEqual(t, d, 60*time.Minute)
		require.LessOrEqual(t, d, 120*time.Minute)
		if d < 80*time.Minute {
			shorts++
		}
		if d >= 100*time.Minute {
			longs++
		}
	}
	// SHORT tier (40%) must be drawn clearly more often than LONG (20%).
	assert.Greater(t, shorts, longs)
}

func TestRestDurationDegenerateRange(t *testing.T) {
	sim := New(rand.New(rand.NewSource(1)))
	d := sim.RestDuration(domain.Range{Min: 30, Max: 30})
	assert.Equal(t, 30*time.Minute, d)
}

func TestSeededReproducibility(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	a := New(rand.New(rand.NewSource(1234)))
	b := New(rand.New(rand.NewSource(1234)))

	for i := 0; i < 100; i++ {
		da := a.Compose(domain.AgeEstablished, "same message", now)
		db := b.Compose(domain.AgeEstablished, "same message", now)
		require.Equal(t, da, db)
	}
}
