// Package runner drives campaigns through their lifecycle. One Runner owns
// one campaign: it claims queue items, composes human-like pacing from the
// simulator, the adaptive controller and the health monitor, calls the chat
// transport, and keeps the persisted campaign state current. A Manager holds
// the live runners and the supervision loops around them.
package runner

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/blast-orchestrator/internal/antidetect"
	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/emitter"
	"github.com/ignite/blast-orchestrator/internal/health"
	"github.com/ignite/blast-orchestrator/internal/humansim"
	"github.com/ignite/blast-orchestrator/internal/pacing"
	"github.com/ignite/blast-orchestrator/internal/pkg/clock"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
	"github.com/ignite/blast-orchestrator/internal/queue"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
	"github.com/ignite/blast-orchestrator/internal/transport"
	"github.com/ignite/blast-orchestrator/internal/validation"
)

const (
	defaultSendTimeout = 30 * time.Second

	// selfInspectEvery is the send cadence of the timing self-inspection.
	selfInspectEvery = 25
)

// Deps are the capabilities a runner composes. Tests inject fakes; nothing
// here is reached through package-level state.
type Deps struct {
	Repo      campaign.Repository
	Queue     queue.Store
	Cache     *validation.Cache
	Transport transport.ChatTransport
	Pacing    *pacing.Controller
	Health    *health.Monitor
	Detect    *antidetect.Engine
	Events    emitter.Sink
	Clock     clock.Clock

	SendTimeout time.Duration
	// Seed perturbs the per-campaign RNG. Zero makes pacing a pure function
	// of the campaign ID, which is what the tests rely on.
	Seed int64
}

func (d Deps) sendTimeout() time.Duration {
	if d.SendTimeout > 0 {
		return d.SendTimeout
	}
	return defaultSendTimeout
}

// Runner executes one campaign.
type Runner struct {
	deps Deps
	cfg  domain.Config

	mu     sync.Mutex
	camp   *domain.Campaign
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
	sim   *humansim.Simulator

	// Session state, guarded by mu. Drawn fresh when a worker session spawns.
	dailyLimit    int
	restThreshold int
	sinceRest     int
	sentToday     int
	failedToday   int
	lastSendAt    time.Time
	recovery      health.Assessment
}

// New creates a runner for a campaign. The RNG seed derives from the campaign
// ID so a fixed Deps.Seed reproduces every pacing decision.
func New(deps Deps, camp *domain.Campaign) *Runner {
	h := fnv.New64a()
	h.Write([]byte(camp.ID))
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ deps.Seed))

	return &Runner{
		deps: deps,
		cfg:  camp.Config,
		camp: camp,
		rng:  rng,
		sim:  humansim.New(rng),
	}
}

// Snapshot returns the current counters. Part of the Handle interface.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		CampaignID: r.camp.ID,
		TenantID:   r.camp.TenantID,
		ChannelID:  r.camp.ChannelID,
		Status:     r.camp.Status,
		Total:      r.camp.Total,
		Sent:       r.camp.Sent,
		Failed:     r.camp.Failed,
		Skipped:    r.camp.Skipped,
	}
}

// Campaign returns a copy of the campaign state.
func (r *Runner) Campaign() domain.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.camp
	return cp
}

// Start moves a scheduled campaign to running and spawns its workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.camp.Status != domain.CampaignScheduled {
		return domain.NewError(domain.KindIllegalTransition,
			"cannot start a %s campaign", r.camp.Status)
	}
	if err := r.transitionLocked(ctx, domain.CampaignRunning, ""); err != nil {
		return err
	}
	r.spawnLocked(true)
	return nil
}

// Resume moves a paused campaign back to running.
func (r *Runner) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.camp.Status != domain.CampaignPaused {
		return domain.NewError(domain.KindIllegalTransition,
			"cannot resume a %s campaign", r.camp.Status)
	}
	resetDaily := r.camp.PauseReason == domain.PauseReasonDailyLimit
	if err := r.transitionLocked(ctx, domain.CampaignRunning, ""); err != nil {
		return err
	}
	r.spawnLocked(resetDaily)
	return nil
}

// Pause moves a running campaign to paused and cancels its workers. The
// in-flight send, if any, still completes; no new send starts afterwards.
// Part of the Handle interface.
func (r *Runner) Pause(ctx context.Context, reason string, resumeAt *time.Time) error {
	r.mu.Lock()
	if r.camp.Status != domain.CampaignRunning {
		status := r.camp.Status
		r.mu.Unlock()
		return domain.NewError(domain.KindIllegalTransition,
			"cannot pause a %s campaign", status)
	}
	r.camp.PauseReason = reason
	r.camp.ResumeAt = resumeAt
	err := r.transitionLocked(ctx, domain.CampaignPaused, reason)
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return err
}

// Stop terminates the campaign. Remaining pending items stay pending.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.camp.Status.Terminal() {
		status := r.camp.Status
		r.mu.Unlock()
		return domain.NewError(domain.KindIllegalTransition,
			"cannot stop a %s campaign", status)
	}
	err := r.transitionLocked(ctx, domain.CampaignStopped, "")
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.deps.Pacing.Forget(r.camp.ID)
	return err
}

// Adopt re-spawns workers for a campaign that was already running when the
// process started (boot recovery).
func (r *Runner) Adopt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.camp.Status == domain.CampaignRunning && r.cancel == nil {
		r.spawnLocked(false)
	}
}

// halt cancels workers without a state transition, for process shutdown: the
// campaign stays RUNNING in the database and boot recovery re-adopts it.
func (r *Runner) halt() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Wait blocks until the current worker session has exited (tests).
func (r *Runner) Wait() { r.wg.Wait() }

// transitionLocked applies a state transition, persists it and emits the
// status change. Callers hold r.mu.
func (r *Runner) transitionLocked(ctx context.Context, to domain.CampaignStatus, reason string) error {
	from := r.camp.Status
	if !domain.CanTransition(from, to) {
		return domain.NewError(domain.KindIllegalTransition,
			"illegal transition %s -> %s", from, to)
	}

	now := r.deps.Clock.Now()
	r.camp.Status = to
	switch to {
	case domain.CampaignRunning:
		if from == domain.CampaignScheduled {
			r.camp.StartedAt = &now
		}
		r.camp.PauseReason = ""
		r.camp.ResumeAt = nil
		r.camp.PausedAt = nil
	case domain.CampaignPaused:
		r.camp.PausedAt = &now
	case domain.CampaignCompleted, domain.CampaignStopped:
		r.camp.CompletedAt = &now
	case domain.CampaignFailed:
		r.camp.CompletedAt = &now
		r.camp.LastError = reason
	}
	r.camp.ProgressPct = r.camp.Progress()

	if err := r.deps.Repo.UpdateState(ctx, r.camp); err != nil {
		logger.Error("persist campaign state",
			"campaign_id", r.camp.ID, "status", string(to), "error", err.Error())
	}
	r.deps.Events.Publish(emitter.StatusChange(r.camp.TenantID, r.camp.ID, from, to, reason))
	logger.Info("campaign transition",
		"campaign_id", r.camp.ID, "from", string(from), "to", string(to), "reason", reason)
	return nil
}

// spawnLocked draws the session parameters and starts the worker goroutines.
// Callers hold r.mu.
func (r *Runner) spawnLocked(resetDaily bool) {
	r.dailyLimit = r.drawRange(r.cfg.DailyLimit)
	r.restThreshold = r.drawRange(r.cfg.RestThreshold)
	if resetDaily {
		r.sentToday = 0
		r.failedToday = 0
	}

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if r.recovery.RecoveryActive && r.recovery.ConcurrencyCap > 0 && workers > r.recovery.ConcurrencyCap {
		workers = r.recovery.ConcurrencyCap
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("%s#%d", uuid.New().String()[:8], i)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.run(ctx, workerID)
		}()
	}
}

// run is one worker loop. It exits when the campaign leaves RUNNING, the
// context is cancelled, or the queue is exhausted.
func (r *Runner) run(ctx context.Context, workerID string) {
	logger.Info("worker started",
		"campaign_id", r.camp.ID, "worker_id", workerID)

	for {
		if ctx.Err() != nil {
			return
		}
		if r.status() != domain.CampaignRunning {
			return
		}

		now := r.deps.Clock.Now()
		if !withinBusinessHours(r.cfg.BusinessHours, now) {
			at := nextBusinessWindow(r.cfg.BusinessHours, now)
			r.pauseFromWorker(ctx, domain.PauseReasonBusinessHours, &at)
			return
		}

		item, err := r.deps.Queue.ClaimNext(ctx, r.camp.ID, workerID)
		if err != nil {
			r.failCampaign(ctx, fmt.Errorf("claim next item: %w", err))
			return
		}
		if item == nil {
			r.complete(ctx)
			return
		}

		if !r.processItem(ctx, item) {
			return
		}
	}
}

// processItem handles one claimed queue item end to end. Returns false when
// the worker should exit.
func (r *Runner) processItem(ctx context.Context, item *domain.QueueItem) bool {
	// Existence check. A transport error here is not fatal: the send itself
	// will fail with a classifiable error if the recipient is unreachable.
	res, err := r.deps.Cache.Validate(ctx, item.Recipient, r.deps.Transport)
	if err != nil {
		logger.Warn("recipient validation unavailable",
			"campaign_id", r.camp.ID, "recipient", logger.RedactPhone(item.Recipient),
			"error", err.Error())
	} else if !res.Exists {
		r.skipItem(ctx, item, "not-on-platform")
		return true
	}

	postSend, ok := r.preSendWait(ctx, item)
	if !ok {
		// Pause or stop interrupted the wait. The item goes back unprocessed
		// so the same recipient is next on resume.
		r.releaseItem(item.ID)
		return false
	}

	if ctx.Err() != nil || r.status() != domain.CampaignRunning {
		r.releaseItem(item.ID)
		return false
	}

	outcomeOK := r.send(ctx, item)

	// Post-send human components run after the outcome is recorded; an
	// interrupted tail sleep loses nothing.
	if postSend > 0 {
		if err := r.deps.Clock.Sleep(ctx, postSend); err != nil {
			return false
		}
	}

	if !outcomeOK {
		return false
	}
	return r.enforceDailyCap(ctx)
}

// preSendWait composes and sleeps the full pre-send delay: base contact
// delay scaled by the adaptive factor and the health multiplier, plus the
// human typing components, plus 20% jitter, then the rest window, the chaos
// pauses and the per-call micro delay. Returns the human post-send tail and
// false if interrupted.
func (r *Runner) preSendWait(ctx context.Context, item *domain.QueueItem) (time.Duration, bool) {
	r.mu.Lock()
	recovery := r.recovery
	r.mu.Unlock()

	baseSeconds := float64(r.drawRange(r.cfg.ContactDelay))
	if recovery.RecoveryActive && baseSeconds < float64(recovery.MinContactDelaySeconds) {
		baseSeconds = float64(recovery.MinContactDelaySeconds)
	}

	factor := r.deps.Pacing.Factor(r.camp.ID)
	mult := recovery.DelayMultiplier
	if mult == 0 {
		mult = 1.0
	}
	base := time.Duration(baseSeconds * factor * mult * float64(time.Second))

	r.rngMu.Lock()
	human := r.sim.Compose(r.cfg.AccountAge, item.RenderedMessage, r.deps.Clock.Now())
	r.rngMu.Unlock()

	wait := r.deps.Detect.Jitter(base+human.PreSend(), 0.20)
	if err := r.deps.Clock.Sleep(ctx, wait); err != nil {
		return 0, false
	}

	if !r.restIfDue(ctx) {
		return 0, false
	}

	r.rngMu.Lock()
	chaos := r.sim.ChaosPause()
	r.rngMu.Unlock()
	if chaos > 0 {
		if err := r.deps.Clock.Sleep(ctx, chaos); err != nil {
			return 0, false
		}
	}

	micro := time.Duration(r.drawRange(r.cfg.MessageDelay)) * time.Second
	if err := r.deps.Clock.Sleep(ctx, micro); err != nil {
		return 0, false
	}
	return human.PostSend(), true
}

// restIfDue inserts a long rest once the per-session message counter crosses
// the drawn threshold. Returns false if interrupted.
func (r *Runner) restIfDue(ctx context.Context) bool {
	r.mu.Lock()
	due := r.restThreshold > 0 && r.sinceRest >= r.restThreshold
	r.mu.Unlock()
	if !due {
		return true
	}

	r.rngMu.Lock()
	rest := r.sim.RestDuration(r.cfg.RestDelay)
	r.rngMu.Unlock()

	logger.Info("rest window",
		"campaign_id", r.camp.ID, "duration", rest.String())
	if err := r.deps.Clock.Sleep(ctx, rest); err != nil {
		return false
	}

	r.mu.Lock()
	r.sinceRest = 0
	r.restThreshold = r.drawRange(r.cfg.RestThreshold)
	r.mu.Unlock()
	return true
}

// send calls the transport and records the outcome. Returns false when the
// worker should exit because the outcome forced a state transition.
func (r *Runner) send(ctx context.Context, item *domain.QueueItem) bool {
	headers := r.deps.Detect.HeadersFor(r.camp.ID)

	// The send itself runs on a detached context: pause and stop are
	// cooperative and let the in-flight call finish.
	sctx, cancel := context.WithTimeout(context.Background(), r.deps.sendTimeout())
	result, err := r.deps.Transport.Send(sctx, transport.SendRequest{
		ChannelID: r.camp.ChannelID,
		Address:   item.Recipient,
		Body:      item.RenderedMessage,
		Headers:   headers,
	})
	cancel()

	if err != nil {
		return r.onSendFailure(ctx, item, err)
	}
	return r.onSendSuccess(ctx, item, result)
}

func (r *Runner) onSendSuccess(ctx context.Context, item *domain.QueueItem, result transport.SendResult) bool {
	if err := r.deps.Queue.Complete(ctx, item.ID, queue.Sent(result.ProviderMessageID), r.cfg.Retry.MaxRetries); err != nil {
		logger.Error("complete sent item",
			"campaign_id", r.camp.ID, "item_id", item.ID, "error", err.Error())
	}

	now := r.deps.Clock.Now()
	r.mu.Lock()
	r.camp.Sent++
	r.camp.CurrentIndex++
	r.camp.ProgressPct = r.camp.Progress()
	r.sentToday++
	r.sinceRest++
	if !r.lastSendAt.IsZero() {
		r.deps.Detect.RecordTiming(r.camp.ID, "send", now.Sub(r.lastSendAt).Milliseconds())
	}
	r.lastSendAt = now
	sent := r.camp.Sent
	if err := r.deps.Repo.UpdateState(ctx, r.camp); err != nil {
		logger.Error("persist campaign counters",
			"campaign_id", r.camp.ID, "error", err.Error())
	}
	r.mu.Unlock()

	r.deps.Pacing.Observe(r.camp.ID, true)

	r.deps.Events.Publish(emitter.MessageSuccess(r.camp.TenantID, r.camp.ID, item.Ordinal, item.Recipient))
	r.publishProgress()

	if sent%selfInspectEvery == 0 {
		r.selfInspect()
	}

	assessment, err := r.deps.Health.OnSuccess(ctx, r.camp.ChannelID)
	if err != nil {
		logger.Warn("health update failed",
			"channel_id", r.camp.ChannelID, "error", err.Error())
		return true
	}
	return r.applyAssessment(ctx, assessment)
}

func (r *Runner) onSendFailure(ctx context.Context, item *domain.QueueItem, sendErr error) bool {
	kind := transport.Classify(sendErr)

	if kind == domain.SendRecipientInvalid {
		// The platform told us the recipient does not exist; remember that
		// so future campaigns skip without a transport call.
		r.deps.Cache.Store(ctx, item.Recipient, false, "")
		r.skipItem(ctx, item, "recipient-not-on-platform")
		return true
	}

	retryable := kind.Retryable()
	willRetry := retryable && item.Attempt < r.cfg.Retry.MaxRetries

	if err := r.deps.Queue.Complete(ctx, item.ID,
		queue.Failed(string(kind), retryable), r.cfg.Retry.MaxRetries); err != nil {
		logger.Error("complete failed item",
			"campaign_id", r.camp.ID, "item_id", item.ID, "error", err.Error())
	}

	r.mu.Lock()
	if !willRetry {
		r.camp.Failed++
		r.camp.CurrentIndex++
		r.camp.ProgressPct = r.camp.Progress()
		r.failedToday++
	}
	if err := r.deps.Repo.UpdateState(ctx, r.camp); err != nil {
		logger.Error("persist campaign counters",
			"campaign_id", r.camp.ID, "error", err.Error())
	}
	r.mu.Unlock()

	r.deps.Pacing.Observe(r.camp.ID, false)

	r.deps.Events.Publish(emitter.MessageFailure(r.camp.TenantID, r.camp.ID,
		item.Ordinal, item.Recipient, kind, willRetry, item.Attempt+1, r.cfg.Retry.MaxRetries))
	r.publishProgress()

	logger.Warn("send failed",
		"campaign_id", r.camp.ID,
		"recipient", logger.RedactPhone(item.Recipient),
		"kind", string(kind),
		"attempt", item.Attempt,
		"will_retry", willRetry)

	if willRetry {
		if err := r.deps.Clock.Sleep(ctx, r.retryDelay(item.Attempt)); err != nil {
			return false
		}
	}

	assessment, err := r.deps.Health.OnFailure(ctx, r.camp.ChannelID)
	if err != nil {
		logger.Warn("health update failed",
			"channel_id", r.camp.ChannelID, "error", err.Error())
		return true
	}
	return r.applyAssessment(ctx, assessment)
}

// retryDelay spaces retries per the campaign retry config.
func (r *Runner) retryDelay(attempt int) time.Duration {
	d := time.Duration(r.cfg.Retry.RetryDelaySeconds) * time.Second
	if d <= 0 {
		d = time.Second
	}
	if r.cfg.Retry.ExponentialBackoff {
		for i := 0; i < attempt; i++ {
			d *= 2
		}
	}
	return d
}

// applyAssessment honors the health monitor's throttling decision. Returns
// false when the channel forced a pause and the worker must exit.
func (r *Runner) applyAssessment(ctx context.Context, a health.Assessment) bool {
	r.mu.Lock()
	r.recovery = a
	r.mu.Unlock()

	if a.ForcedPause > 0 {
		resumeAt := r.deps.Clock.Now().Add(a.ForcedPause)
		logger.Warn("channel health forced pause",
			"campaign_id", r.camp.ID,
			"channel_id", r.camp.ChannelID,
			"score", a.Score,
			"pause", a.ForcedPause.String())
		r.deps.Events.Publish(emitter.Toast(r.camp.TenantID, emitter.ToastWarning,
			"Channel resting",
			fmt.Sprintf("Channel health dropped to %d; campaign paused for %s", a.Score, a.ForcedPause)))
		r.pauseFromWorker(ctx, domain.PauseReasonUnhealthy, &resumeAt)
		return false
	}
	return true
}

// selfInspect runs the timing self-check and reacts to bot-like patterns by
// rotating the fingerprint and raising the external risk floor.
func (r *Runner) selfInspect() {
	report := r.deps.Detect.SelfInspect(r.camp.ID)
	switch {
	case report.Flagged(antidetect.SeverityHigh):
		r.deps.Detect.Rotate(r.camp.ID)
		r.deps.Pacing.SetExternalRisk(r.camp.ID, pacing.RiskHigh)
		logger.Warn("timing self-inspection flagged high",
			"campaign_id", r.camp.ID, "confidence", fmt.Sprintf("%.2f", report.Confidence))
	case report.Flagged(antidetect.SeverityMedium):
		r.deps.Pacing.SetExternalRisk(r.camp.ID, pacing.RiskMedium)
	default:
		r.deps.Pacing.SetExternalRisk(r.camp.ID, pacing.RiskLow)
	}
}

// enforceDailyCap pauses the campaign until the next day once the session
// reaches its drawn daily limit. Returns false when the worker must exit.
func (r *Runner) enforceDailyCap(ctx context.Context) bool {
	r.mu.Lock()
	limit := r.dailyLimit
	if r.recovery.RecoveryActive && r.recovery.DailyCap > 0 && r.recovery.DailyCap < limit {
		limit = r.recovery.DailyCap
	}
	reached := limit > 0 && r.sentToday+r.failedToday >= limit
	r.mu.Unlock()
	if !reached {
		return true
	}

	resumeAt := r.nextSendDay()
	logger.Info("daily limit reached",
		"campaign_id", r.camp.ID, "limit", limit, "resume_at", resumeAt.Format(time.RFC3339))
	r.pauseFromWorker(ctx, domain.PauseReasonDailyLimit, &resumeAt)
	return false
}

// nextSendDay is the next day's window start: midnight in the business-hours
// timezone, pushed to the window opening when business hours are enabled.
func (r *Runner) nextSendDay() time.Time {
	now := r.deps.Clock.Now()
	loc := bhLocation(r.cfg.BusinessHours)
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Add(24 * time.Hour)
	if !r.cfg.BusinessHours.Enabled {
		return midnight
	}
	if withinBusinessHours(r.cfg.BusinessHours, midnight) {
		return midnight
	}
	return nextBusinessWindow(r.cfg.BusinessHours, midnight)
}

// pauseFromWorker transitions to PAUSED on behalf of the worker itself.
func (r *Runner) pauseFromWorker(ctx context.Context, reason string, resumeAt *time.Time) {
	r.mu.Lock()
	if r.camp.Status != domain.CampaignRunning {
		r.mu.Unlock()
		return
	}
	r.camp.PauseReason = reason
	r.camp.ResumeAt = resumeAt
	_ = r.transitionLocked(ctx, domain.CampaignPaused, reason)
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// complete finishes the campaign once the queue is exhausted.
func (r *Runner) complete(ctx context.Context) {
	r.mu.Lock()
	if r.camp.Status != domain.CampaignRunning {
		r.mu.Unlock()
		return
	}
	_ = r.transitionLocked(ctx, domain.CampaignCompleted, "")
	cancel := r.cancel
	r.cancel = nil
	camp := *r.camp
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.deps.Pacing.Forget(camp.ID)

	stats, err := r.deps.Queue.Stats(ctx, camp.ID)
	if err != nil {
		stats = domain.QueueStats{Sent: camp.Sent, Failed: camp.Failed, Skipped: camp.Skipped}
	}
	r.deps.Events.Publish(emitter.CampaignCompleted(camp.TenantID, camp.ID, stats))
	r.deps.Events.Publish(emitter.Toast(camp.TenantID, emitter.ToastSuccess,
		"Campaign completed",
		fmt.Sprintf("%s finished: %d sent, %d failed, %d skipped", camp.Name, stats.Sent, stats.Failed, stats.Skipped)))
}

// failCampaign downgrades the campaign after an unrecoverable internal error.
// The worker never panics the process.
func (r *Runner) failCampaign(ctx context.Context, cause error) {
	logger.Error("campaign failed",
		"campaign_id", r.camp.ID, "error", cause.Error())

	r.mu.Lock()
	if r.camp.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	_ = r.transitionLocked(ctx, domain.CampaignFailed, cause.Error())
	cancel := r.cancel
	r.cancel = nil
	camp := *r.camp
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.deps.Pacing.Forget(camp.ID)

	r.deps.Events.Publish(emitter.Toast(camp.TenantID, emitter.ToastError,
		"Campaign failed", cause.Error()))
	r.deps.Events.Publish(emitter.CampaignCompleted(camp.TenantID, camp.ID,
		domain.QueueStats{Sent: camp.Sent, Failed: camp.Failed, Skipped: camp.Skipped}))
}

func (r *Runner) skipItem(ctx context.Context, item *domain.QueueItem, reason string) {
	if err := r.deps.Queue.Complete(ctx, item.ID, queue.Skipped(reason), r.cfg.Retry.MaxRetries); err != nil {
		logger.Error("skip item",
			"campaign_id", r.camp.ID, "item_id", item.ID, "error", err.Error())
		return
	}
	r.mu.Lock()
	r.camp.Skipped++
	r.camp.CurrentIndex++
	r.camp.ProgressPct = r.camp.Progress()
	if err := r.deps.Repo.UpdateState(ctx, r.camp); err != nil {
		logger.Error("persist campaign counters",
			"campaign_id", r.camp.ID, "error", err.Error())
	}
	r.mu.Unlock()
	r.publishProgress()
}

func (r *Runner) releaseItem(itemID string) {
	// Detached context: the release must land even though the worker context
	// is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.Queue.Release(ctx, itemID); err != nil {
		logger.Error("release claimed item",
			"campaign_id", r.camp.ID, "item_id", itemID, "error", err.Error())
	}
}

func (r *Runner) publishProgress() {
	r.mu.Lock()
	camp := *r.camp
	r.mu.Unlock()
	st := domain.QueueStats{
		Sent:    camp.Sent,
		Failed:  camp.Failed,
		Skipped: camp.Skipped,
		Pending: camp.Total - camp.Sent - camp.Failed - camp.Skipped,
	}
	r.deps.Events.Publish(emitter.Progress(camp.TenantID, camp.ID, st, camp.ProgressPct, ""))
}

func (r *Runner) status() domain.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camp.Status
}

// drawRange draws uniformly from an inclusive integer range.
func (r *Runner) drawRange(rg domain.Range) int {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	if rg.Max <= rg.Min {
		return rg.Min
	}
	return rg.Min + r.rng.Intn(rg.Max-rg.Min+1)
}
