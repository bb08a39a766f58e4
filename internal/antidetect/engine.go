// Package antidetect issues per-campaign device fingerprints, varies request
// headers, jitters delays, and self-inspects outbound timing for the
// machine-like patterns platform abuse detection keys on.
package antidetect

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	// timingRingSize bounds the per-campaign timing history.
	timingRingSize = 100

	// minInspectSamples is the minimum history required before SelfInspect
	// reports anything.
	minInspectSamples = 10
)

// Severity grades a detected timing issue.
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Issue is one pattern flagged by SelfInspect.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Detail   string   `json:"detail"`
}

// InspectionReport summarizes the timing self-inspection of one campaign.
type InspectionReport struct {
	Samples    int     `json:"samples"`
	Issues     []Issue `json:"issues,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Flagged reports whether any issue of the given severity was found.
func (r InspectionReport) Flagged(sev Severity) bool {
	for _, iss := range r.Issues {
		if iss.Severity == sev {
			return true
		}
	}
	return false
}

// timingRecord is one observed outbound operation timing.
type timingRecord struct {
	op     string
	tMs    int64
	tsReal time.Time
}

// timingRing is an append-only bounded ring of timing records.
type timingRing struct {
	records []timingRecord
	next    int
	full    bool
}

func (r *timingRing) append(rec timingRecord) {
	if r.records == nil {
		r.records = make([]timingRecord, timingRingSize)
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % timingRingSize
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns records oldest-first.
func (r *timingRing) ordered() []timingRecord {
	if !r.full {
		out := make([]timingRecord, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]timingRecord, 0, timingRingSize)
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

// Engine holds per-campaign anti-detection state. Safe for concurrent use.
type Engine struct {
	mu           sync.Mutex
	rng          *rand.Rand
	fingerprints map[string]*Fingerprint
	rings        map[string]*timingRing
}

// NewEngine creates an engine over the given RNG.
func NewEngine(rng *rand.Rand) *Engine {
	return &Engine{
		rng:          rng,
		fingerprints: make(map[string]*Fingerprint),
		rings:        make(map[string]*timingRing),
	}
}

// FingerprintFor returns the campaign's fingerprint, issuing one on first
// call. Issuance is idempotent: repeated calls return the same descriptor.
func (e *Engine) FingerprintFor(campaignID string) *Fingerprint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fp, ok := e.fingerprints[campaignID]; ok {
		return fp
	}
	fp := newFingerprint(e.rng, 1)
	e.fingerprints[campaignID] = fp
	return fp
}

// Rotate replaces the campaign's fingerprint with a fresh one and bumps the
// rotation generation.
func (e *Engine) Rotate(campaignID string) *Fingerprint {
	e.mu.Lock()
	defer e.mu.Unlock()
	gen := 1
	if prev, ok := e.fingerprints[campaignID]; ok {
		gen = prev.Generation + 1
	}
	fp := newFingerprint(e.rng, gen)
	e.fingerprints[campaignID] = fp
	return fp
}

// HeadersFor returns the outbound header set for a campaign: required device
// headers plus optional headers present at 50% each so consecutive requests
// do not share an identical header shape.
func (e *Engine) HeadersFor(campaignID string) map[string]string {
	fp := e.FingerprintFor(campaignID)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := map[string]string{
		"User-Agent":    fp.UserAgent,
		"X-Device-Id":   fp.DeviceID,
		"X-App-Version": fp.AppVersion,
		"X-Device-Os":   fp.OSVersion,
	}
	if e.rng.Float64() < 0.5 {
		h["X-Request-Timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	if e.rng.Float64() < 0.5 {
		h["Accept-Encoding"] = "gzip, deflate"
	}
	return h
}

// Jitter returns d varied by up to ±pct, never negative.
func (e *Engine) Jitter(d time.Duration, pct float64) time.Duration {
	e.mu.Lock()
	u := e.rng.Float64()*2 - 1
	e.mu.Unlock()

	out := d + time.Duration(float64(d)*pct*u)
	if out < 0 {
		return 0
	}
	return out
}

// RecordTiming appends one operation timing to the campaign's bounded ring.
func (e *Engine) RecordTiming(campaignID, op string, tMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ring, ok := e.rings[campaignID]
	if !ok {
		ring = &timingRing{}
		e.rings[campaignID] = ring
	}
	ring.append(timingRecord{op: op, tMs: tMs, tsReal: time.Now()})
}

// SelfInspect analyzes the campaign's recent send intervals for bot-like
// patterns: repeated second-bucketed intervals, suspiciously low variance,
// and runs of near-identical consecutive intervals.
func (e *Engine) SelfInspect(campaignID string) InspectionReport {
	e.mu.Lock()
	ring, ok := e.rings[campaignID]
	var recs []timingRecord
	if ok {
		recs = ring.ordered()
	}
	e.mu.Unlock()

	report := InspectionReport{Samples: len(recs)}
	if len(recs) < minInspectSamples {
		return report
	}

	intervals := make([]float64, len(recs))
	buckets := make(map[int64]int)
	for i, r := range recs {
		intervals[i] = float64(r.tMs)
		buckets[(r.tMs+500)/1000]++
	}

	maxRepetition := 0
	for _, n := range buckets {
		if n > maxRepetition {
			maxRepetition = n
		}
	}
	if maxRepetition > 3 {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityHigh,
			Code:     "interval_repetition",
			Detail:   fmt.Sprintf("%d intervals share the same second bucket", maxRepetition),
		})
	}

	perfectTriples := 0
	for i := 0; i+2 < len(intervals); i++ {
		d1 := math.Abs(intervals[i+1] - intervals[i])
		d2 := math.Abs(intervals[i+2] - intervals[i+1])
		if d1 < 100 && d2 < 100 {
			perfectTriples++
		}
	}
	if perfectTriples > 5 {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityHigh,
			Code:     "perfect_triples",
			Detail:   fmt.Sprintf("%d triples with successive differences under 100ms", perfectTriples),
		})
	}

	if cov := coefficientOfVariation(intervals); cov < 0.15 {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityMedium,
			Code:     "low_variance",
			Detail:   fmt.Sprintf("coefficient of variation %.3f below 0.15", cov),
		})
	}

	report.Confidence = math.Min(1, float64(len(report.Issues))/3)
	return report
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq/float64(len(xs))) / mean
}
