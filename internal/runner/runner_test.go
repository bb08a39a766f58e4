package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/blast-orchestrator/internal/antidetect"
	"github.com/ignite/blast-orchestrator/internal/domain"
	"github.com/ignite/blast-orchestrator/internal/emitter"
	"github.com/ignite/blast-orchestrator/internal/health"
	"github.com/ignite/blast-orchestrator/internal/pacing"
	"github.com/ignite/blast-orchestrator/internal/pkg/clock"
	"github.com/ignite/blast-orchestrator/internal/queue"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
	"github.com/ignite/blast-orchestrator/internal/transport"
	"github.com/ignite/blast-orchestrator/internal/validation"
)

// recordSink captures published events for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []emitter.Event
}

func (s *recordSink) Publish(e emitter.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordSink) ofKind(kind emitter.EventKind) []emitter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emitter.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeTransport scripts send outcomes per call.
type fakeTransport struct {
	mu        sync.Mutex
	sends     []string // addresses in call order
	checks    []string
	sendErrs  []error // consumed per call; nil entry means success
	failAll   error   // when set, every send fails with this
	realDelay time.Duration
}

func (f *fakeTransport) ExistsOnPlatform(_ context.Context, address string) (bool, string, error) {
	f.mu.Lock()
	f.checks = append(f.checks, address)
	f.mu.Unlock()
	return true, "", nil
}

func (f *fakeTransport) Send(_ context.Context, req transport.SendRequest) (transport.SendResult, error) {
	if f.realDelay > 0 {
		time.Sleep(f.realDelay)
	}
	f.mu.Lock()
	f.sends = append(f.sends, req.Address)
	n := len(f.sends)
	var err error
	if f.failAll != nil {
		err = f.failAll
	} else if n-1 < len(f.sendErrs) {
		err = f.sendErrs[n-1]
	}
	f.mu.Unlock()
	return transport.SendResult{ProviderMessageID: "prov-msg"}, err
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeTransport) sentAddresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// steadyScores pins the health score so scenarios can isolate other
// components from the throttle ladder.
type steadyScores struct{}

func (steadyScores) Adjust(context.Context, string, int) (int, error)     { return 100, nil }
func (steadyScores) Score(context.Context, string) (int, error)           { return 100, nil }
func (steadyScores) RecordForcedPause(context.Context, string, time.Duration) (int, error) {
	return 0, nil
}

type fixture struct {
	repo  *campaign.MemoryRepository
	queue *queue.MemoryStore
	cache *validation.Cache
	tr    *fakeTransport
	clk   *clock.Fake
	sink  *recordSink
	deps  Deps
}

func newFixture(t *testing.T, autoAdvance bool) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) // a Monday
	clk.SetAutoAdvance(autoAdvance)
	f := &fixture{
		repo:  campaign.NewMemoryRepository(),
		queue: queue.NewMemoryStore(),
		cache: validation.NewCache(nil, nil, clk),
		tr:    &fakeTransport{},
		clk:   clk,
		sink:  &recordSink{},
	}
	f.queue.SetNowFunc(clk.Now)
	f.deps = Deps{
		Repo:      f.repo,
		Queue:     f.queue,
		Cache:     f.cache,
		Transport: f.tr,
		Pacing:    pacing.NewController(),
		Health:    health.NewMonitor(steadyScores{}, rand.New(rand.NewSource(1))),
		Detect:    antidetect.NewEngine(rand.New(rand.NewSource(2))),
		Events:    f.sink,
		Clock:     clk,
		Seed:      42,
	}
	return f
}

func fastConfig() domain.Config {
	cfg := domain.DefaultConfig(domain.AgeEstablished)
	cfg.ContactDelay = domain.Range{Min: 1, Max: 1}
	cfg.MessageDelay = domain.Range{Min: 0, Max: 0}
	cfg.DailyLimit = domain.Range{Min: 100, Max: 100}
	cfg.RestThreshold = domain.Range{Min: 1000, Max: 1000}
	return cfg
}

func (f *fixture) seedCampaign(t *testing.T, id string, total int, cfg domain.Config) *domain.Campaign {
	t.Helper()
	camp := &domain.Campaign{
		ID:        id,
		TenantID:  "t1",
		ChannelID: "ch1",
		Name:      "spring launch",
		Status:    domain.CampaignScheduled,
		Total:     total,
		Config:    cfg,
		CreatedAt: f.clk.Now(),
	}
	require.NoError(t, f.repo.Create(context.Background(), camp))

	items := make([]domain.QueueItem, total)
	for i := range items {
		items[i] = domain.QueueItem{
			ID:              fmt.Sprintf("%s-item-%03d", id, i),
			CampaignID:      id,
			Ordinal:         i,
			Recipient:       addr(i),
			RenderedMessage: "oi, tudo bem?",
		}
	}
	require.NoError(t, f.queue.Append(context.Background(), items))
	return camp
}

func addr(i int) string {
	return fmt.Sprintf("+5511900000%03d", i)
}

func waitStatus(t *testing.T, r *Runner, want domain.CampaignStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return r.status() == want },
		5*time.Second, 2*time.Millisecond, "campaign never reached %s", want)
}

func TestHappyPathCompletesInOrder(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "c1", 5, fastConfig())
	r := New(f.deps, camp)

	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	stored, err := f.repo.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, stored.Status)
	assert.Equal(t, 5, stored.Sent)
	assert.Equal(t, 0, stored.Failed)
	assert.Equal(t, 0, stored.Skipped)
	assert.InDelta(t, 100.0, stored.ProgressPct, 0.001)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)

	// One send per recipient, in queue order.
	want := []string{addr(0), addr(1), addr(2), addr(3), addr(4)}
	assert.Equal(t, want, f.tr.sentAddresses())

	successes := f.sink.ofKind(emitter.EventMessageSuccess)
	require.Len(t, successes, 5)
	for i, e := range successes {
		assert.Equal(t, i, e.Data["ordinal"])
	}
	assert.Len(t, f.sink.ofKind(emitter.EventCampaignCompleted), 1)
}

func TestAllInvalidRecipientsSkipWithoutSends(t *testing.T) {
	f := newFixture(t, true)
	camp := f.seedCampaign(t, "c2", 5, fastConfig())
	for i := 0; i < 5; i++ {
		f.cache.Store(context.Background(), addr(i), false, "")
	}

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c2")
	assert.Equal(t, 0, stored.Sent)
	assert.Equal(t, 0, stored.Failed)
	assert.Equal(t, 5, stored.Skipped)
	assert.Equal(t, 0, f.tr.sendCount())

	// The cache answered every lookup; the transport was never probed.
	f.tr.mu.Lock()
	assert.Empty(t, f.tr.checks)
	f.tr.mu.Unlock()
}

func TestEmergencyMonitorPausesHighFailureRate(t *testing.T) {
	f := newFixture(t, true)
	f.tr.failAll = &transport.SendError{Kind: domain.SendUnknown, Message: "blocked"}
	f.tr.realDelay = 2 * time.Millisecond
	camp := f.seedCampaign(t, "c3", 100, fastConfig())

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return r.Snapshot().Failed >= 20 },
		5*time.Second, time.Millisecond)

	mon := NewEmergencyMonitor(staticHandles{r}, f.sink, f.clk, 0, 0, 0, 0)
	mon.SweepOnce(context.Background())

	waitStatus(t, r, domain.CampaignPaused)
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c3")
	assert.Equal(t, domain.CampaignPaused, stored.Status)
	assert.Equal(t, domain.PauseReasonBanRate, stored.PauseReason)
	assert.Less(t, stored.Failed, 40)
}

type staticHandles []Handle

func (s staticHandles) Handles() []Handle { return s }

func TestPauseAbortsSleepAndPreservesNextItem(t *testing.T) {
	f := newFixture(t, false) // blocking clock
	cfg := fastConfig()
	cfg.ContactDelay = domain.Range{Min: 600, Max: 600} // 10 minute sleep
	camp := f.seedCampaign(t, "c4", 3, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))

	// Worker claims item 0 and parks in the pre-send sleep.
	require.Eventually(t, func() bool { return f.clk.Sleepers() == 1 },
		2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Pause(context.Background(), domain.PauseReasonManual, nil))
	r.Wait()
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"pause must abort the in-flight sleep within the suspension budget")

	// No send escaped and the claimed item went back to pending untouched.
	assert.Equal(t, 0, f.tr.sendCount())
	next, err := f.queue.PeekNext(context.Background(), "c4")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 0, next.Ordinal)
	assert.Equal(t, 0, next.Attempt)

	st, _ := f.queue.Stats(context.Background(), "c4")
	assert.Equal(t, 0, st.Claimed)

	// Resume on a free-running clock finishes the campaign, starting with
	// the same recipient.
	f.clk.SetAutoAdvance(true)
	require.NoError(t, r.Resume(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()
	assert.Equal(t, addr(0), f.tr.sentAddresses()[0])
}

func TestRetryBudgetExhaustsThenSucceeds(t *testing.T) {
	f := newFixture(t, true)
	transient := &transport.SendError{Kind: domain.SendTransientNetwork, Message: "timeout"}
	f.tr.sendErrs = []error{transient, transient, transient, nil}
	cfg := fastConfig()
	cfg.Retry.MaxRetries = 3
	camp := f.seedCampaign(t, "c5", 1, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	assert.Equal(t, 4, f.tr.sendCount())

	items := f.queue.Items("c5")
	require.Len(t, items, 1)
	assert.Equal(t, domain.ItemSent, items[0].Status)
	assert.Equal(t, 3, items[0].Attempt)

	stored, _ := f.repo.Get(context.Background(), "t1", "c5")
	assert.Equal(t, 1, stored.Sent)
	assert.Equal(t, 0, stored.Failed)
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	f := newFixture(t, true)
	f.tr.sendErrs = []error{
		&transport.SendError{Kind: domain.SendPermissionRevoked, Message: "revoked"},
	}
	camp := f.seedCampaign(t, "c6", 1, fastConfig())

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	assert.Equal(t, 1, f.tr.sendCount())
	items := f.queue.Items("c6")
	assert.Equal(t, domain.ItemFailed, items[0].Status)
	assert.Equal(t, 0, items[0].Attempt)

	failures := f.sink.ofKind(emitter.EventMessageFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "PERMISSION_REVOKED", failures[0].Data["error_kind"])
	assert.Equal(t, false, failures[0].Data["retryable"])
}

func TestRecipientInvalidSendSkipsAndCachesNegative(t *testing.T) {
	f := newFixture(t, true)
	f.tr.sendErrs = []error{
		&transport.SendError{Kind: domain.SendRecipientInvalid, Message: "no such user"},
	}
	camp := f.seedCampaign(t, "c7", 1, fastConfig())

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c7")
	assert.Equal(t, 1, stored.Skipped)
	assert.Equal(t, 0, stored.Failed)

	res := f.cache.Lookup(context.Background(), addr(0))
	require.NotNil(t, res)
	assert.False(t, res.Exists)
}

func TestBusinessHoursGatePausesUntilWindow(t *testing.T) {
	f := newFixture(t, false)
	cfg := fastConfig()
	cfg.BusinessHours.Enabled = true
	cfg.BusinessHours.StartHour = 9
	cfg.BusinessHours.EndHour = 18
	// Fixture clock starts Monday 12:00 UTC; move to 20:00, outside window.
	f.clk.Advance(8 * time.Hour)
	camp := f.seedCampaign(t, "c8", 2, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignPaused)
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c8")
	assert.Equal(t, domain.PauseReasonBusinessHours, stored.PauseReason)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, 9, stored.ResumeAt.UTC().Hour())
	assert.Equal(t, 0, f.tr.sendCount())
}

func TestDailyLimitPausesUntilNextDay(t *testing.T) {
	f := newFixture(t, true)
	cfg := fastConfig()
	cfg.DailyLimit = domain.Range{Min: 2, Max: 2}
	camp := f.seedCampaign(t, "c9", 5, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignPaused)
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c9")
	assert.Equal(t, 2, stored.Sent)
	assert.Equal(t, domain.PauseReasonDailyLimit, stored.PauseReason)
	require.NotNil(t, stored.ResumeAt)
	assert.True(t, stored.ResumeAt.After(*stored.PausedAt))
}

func TestStopIsTerminalAndPreservesPending(t *testing.T) {
	f := newFixture(t, false)
	cfg := fastConfig()
	cfg.ContactDelay = domain.Range{Min: 600, Max: 600}
	camp := f.seedCampaign(t, "c10", 3, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return f.clk.Sleepers() == 1 },
		2*time.Second, time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
	r.Wait()

	stored, _ := f.repo.Get(context.Background(), "t1", "c10")
	assert.Equal(t, domain.CampaignStopped, stored.Status)

	st, _ := f.queue.Stats(context.Background(), "c10")
	assert.Equal(t, 3, st.Pending)

	// Terminal means terminal.
	err := r.Resume(context.Background())
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindIllegalTransition, derr.Kind)

	assert.Error(t, r.Stop(context.Background()))
}

func TestStartTwiceIsIllegal(t *testing.T) {
	f := newFixture(t, false)
	cfg := fastConfig()
	cfg.ContactDelay = domain.Range{Min: 600, Max: 600}
	camp := f.seedCampaign(t, "c11", 1, cfg)

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	defer func() {
		r.Stop(context.Background())
		r.Wait()
	}()

	err := r.Start(context.Background())
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindIllegalTransition, derr.Kind)
}

func TestProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, true)
	f.tr.sendErrs = []error{
		nil,
		&transport.SendError{Kind: domain.SendUnknown, Message: "x"},
		nil, nil, nil,
	}
	camp := f.seedCampaign(t, "c12", 5, fastConfig())

	r := New(f.deps, camp)
	require.NoError(t, r.Start(context.Background()))
	waitStatus(t, r, domain.CampaignCompleted)
	r.Wait()

	last := -1.0
	for _, e := range f.sink.ofKind(emitter.EventProgress) {
		pct := e.Data["pct"].(float64)
		assert.GreaterOrEqual(t, pct, last)
		last = pct
	}
	assert.InDelta(t, 100.0, last, 0.001)
}

func TestEmergencyMonitorWarnsBelowPauseThreshold(t *testing.T) {
	sink := &recordSink{}
	clk := clock.NewFake(time.Now())
	h := &fakeHandle{snap: Snapshot{
		CampaignID: "c1", TenantID: "t1", Status: domain.CampaignRunning,
		Sent: 96, Failed: 4, // 4% failure rate
	}}
	mon := NewEmergencyMonitor(staticHandles{h}, sink, clk, 0, 0, 0, 0)

	mon.SweepOnce(context.Background())
	assert.Equal(t, 0, h.pauses)
	require.Len(t, sink.ofKind(emitter.EventToast), 1)

	// Repeat sweeps do not spam the warning.
	mon.SweepOnce(context.Background())
	assert.Len(t, sink.ofKind(emitter.EventToast), 1)
}

func TestEmergencyMonitorRespectsMinimumSample(t *testing.T) {
	sink := &recordSink{}
	clk := clock.NewFake(time.Now())
	h := &fakeHandle{snap: Snapshot{
		CampaignID: "c1", TenantID: "t1", Status: domain.CampaignRunning,
		Sent: 2, Failed: 8, // 80% but only 10 attempts
	}}
	mon := NewEmergencyMonitor(staticHandles{h}, sink, clk, 0, 0, 0, 0)
	mon.SweepOnce(context.Background())
	assert.Equal(t, 0, h.pauses)
	assert.Empty(t, sink.ofKind(emitter.EventToast))
}

type fakeHandle struct {
	snap   Snapshot
	pauses int
}

func (h *fakeHandle) Snapshot() Snapshot { return h.snap }
func (h *fakeHandle) Pause(_ context.Context, reason string, _ *time.Time) error {
	h.pauses++
	h.snap.Status = domain.CampaignPaused
	return nil
}
