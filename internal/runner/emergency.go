package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/emitter"
	"github.com/ignite/blast-orchestrator/internal/pkg/clock"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

// EmergencyMonitor sweeps all running campaigns and auto-pauses any whose
// lifetime failure rate crosses the critical threshold. It acts only through
// the Handle interface and never mutates campaign state itself.
type EmergencyMonitor struct {
	src    HandleSource
	events emitter.Sink
	clk    clock.Clock

	sweepInterval time.Duration
	minSample     int
	pauseRate     float64
	warnRate      float64

	// warned suppresses repeat warning toasts per campaign between pauses.
	warned map[string]bool
}

// NewEmergencyMonitor creates a monitor. Zero-value thresholds fall back to
// the defaults: 60s sweep, 20 attempt minimum, pause at 5%, warn at 3%.
func NewEmergencyMonitor(src HandleSource, events emitter.Sink, clk clock.Clock,
	sweepInterval time.Duration, minSample int, pauseRate, warnRate float64) *EmergencyMonitor {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	if minSample <= 0 {
		minSample = 20
	}
	if pauseRate <= 0 {
		pauseRate = 0.05
	}
	if warnRate <= 0 {
		warnRate = 0.03
	}
	return &EmergencyMonitor{
		src:           src,
		events:        events,
		clk:           clk,
		sweepInterval: sweepInterval,
		minSample:     minSample,
		pauseRate:     pauseRate,
		warnRate:      warnRate,
		warned:        make(map[string]bool),
	}
}

// Run sweeps until the context is cancelled.
func (m *EmergencyMonitor) Run(ctx context.Context) {
	for {
		if err := m.clk.Sleep(ctx, m.sweepInterval); err != nil {
			return
		}
		m.SweepOnce(ctx)
	}
}

// SweepOnce evaluates every running campaign once.
func (m *EmergencyMonitor) SweepOnce(ctx context.Context) {
	for _, h := range m.src.Handles() {
		s := h.Snapshot()
		if s.Status != domain.CampaignRunning || s.Attempts() < m.minSample {
			continue
		}

		rate := s.FailureRate()
		switch {
		case rate >= m.pauseRate:
			logger.Error("emergency pause: failure rate critical",
				"campaign_id", s.CampaignID,
				"failure_rate", fmt.Sprintf("%.3f", rate),
				"attempts", s.Attempts())
			if err := h.Pause(ctx, domain.PauseReasonBanRate, nil); err != nil {
				logger.Warn("emergency pause failed",
					"campaign_id", s.CampaignID, "error", err.Error())
				continue
			}
			delete(m.warned, s.CampaignID)
			m.events.Publish(emitter.Toast(s.TenantID, emitter.ToastError,
				"Campaign auto-paused",
				fmt.Sprintf("Failure rate %.1f%% on %s exceeded the safety limit", rate*100, s.CampaignID)))

		case rate >= m.warnRate:
			if m.warned[s.CampaignID] {
				continue
			}
			m.warned[s.CampaignID] = true
			logger.Warn("failure rate elevated",
				"campaign_id", s.CampaignID,
				"failure_rate", fmt.Sprintf("%.3f", rate))
			m.events.Publish(emitter.Toast(s.TenantID, emitter.ToastWarning,
				"Failure rate elevated",
				fmt.Sprintf("Failure rate %.1f%% on %s is approaching the safety limit", rate*100, s.CampaignID)))

		default:
			delete(m.warned, s.CampaignID)
		}
	}
}
