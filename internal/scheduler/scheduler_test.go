package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store/memory"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type call struct {
	provider models.Provider
	id       string
	source   models.TriggerSource
}

type fakeTrigger struct {
	mu      sync.Mutex
	calls   []call
	results map[string]engine.TriggerResult
	block   chan struct{}
	drained bool
}

func (f *fakeTrigger) TriggerScan(_ context.Context, p models.Provider, id string, src models.TriggerSource) engine.TriggerResult {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{p, id, src})
	if r, ok := f.results[id]; ok {
		return r
	}
	return engine.TriggerResult{Success: true, AuditID: "audit-" + id}
}

func (f *fakeTrigger) Drain(context.Context) error {
	f.mu.Lock()
	f.drained = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTrigger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newScheduler(t *testing.T, trig engine.Trigger, now time.Time) (*Scheduler, *store.Store, *clock) {
	t.Helper()
	st := memory.New()
	c := &clock{now: now}
	return New(st, trig, Config{Clock: c.Now, Interval: time.Hour}, nil), st, c
}

func addAccount(t *testing.T, s *Scheduler, st *store.Store, p models.Provider, id string, cfg *models.ScheduleConfig) {
	t.Helper()
	ctx := context.Background()
	if err := st.Accounts.Create(ctx, &models.Account{ID: id, Provider: p}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enable(ctx, p, id, cfg); err != nil {
		t.Fatal(err)
	}
}

var daily2 = &models.ScheduleConfig{Frequency: models.FrequencyDaily, Hour: 2}

// ── end to end ───────────────────────────────────────────────────────────────

func TestTick_DailyScheduleEndToEnd(t *testing.T) {
	trig := &fakeTrigger{}
	s, st, c := newScheduler(t, trig, ts("2024-01-01T10:00:00Z"))
	ctx := context.Background()
	addAccount(t, s, st, models.ProviderAWS, "acc-1", daily2)

	acct, _ := st.Accounts.Get(ctx, models.ProviderAWS, "acc-1")
	if acct.NextScheduledScan == nil || !acct.NextScheduledScan.Equal(ts("2024-01-02T02:00:00Z")) {
		t.Fatalf("initial next scan: got %v; want 2024-01-02T02:00Z", acct.NextScheduledScan)
	}

	// Not yet due.
	if got, _ := s.Tick(ctx); len(got) != 0 {
		t.Fatalf("tick before due: %d attempts", len(got))
	}

	c.Set(ts("2024-01-02T02:01:00Z"))
	got, err := s.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Outcome != models.OutcomeTriggered || got[0].AuditID != "audit-acc-1" {
		t.Fatalf("attempts: %+v", got)
	}
	if trig.callCount() != 1 || trig.calls[0].source != models.TriggerScheduled {
		t.Fatalf("trigger calls: %+v", trig.calls)
	}

	logs, _ := st.ScanLogs.ListByAccount(ctx, "acc-1")
	if len(logs) != 1 || logs[0].Outcome != models.OutcomeTriggered || logs[0].Provider != models.ProviderAWS {
		t.Fatalf("scan logs: %+v", logs)
	}

	acct, _ = st.Accounts.Get(ctx, models.ProviderAWS, "acc-1")
	if !acct.NextScheduledScan.Equal(ts("2024-01-03T02:00:00Z")) {
		t.Fatalf("next scan: got %v; want 2024-01-03T02:00Z", acct.NextScheduledScan)
	}

	// A second tick in the same window triggers nothing.
	c.Set(ts("2024-01-02T02:02:00Z"))
	if got, _ := s.Tick(ctx); len(got) != 0 || trig.callCount() != 1 {
		t.Fatalf("second tick: %d attempts, %d calls", len(got), trig.callCount())
	}
}

func TestTick_AllProvidersAndOutcomes(t *testing.T) {
	trig := &fakeTrigger{results: map[string]engine.TriggerResult{
		"gcp-1":   {Err: engine.ErrAuditInProgress, Error: engine.ErrAuditInProgress.Error()},
		"azure-1": {Err: errors.New("account azure-1: malformed credential secret"), Error: "malformed"},
	}}
	s, st, c := newScheduler(t, trig, ts("2024-01-01T00:30:00Z"))
	ctx := context.Background()
	addAccount(t, s, st, models.ProviderAWS, "aws-1", &models.ScheduleConfig{Frequency: models.FrequencyDaily, Hour: 1})
	addAccount(t, s, st, models.ProviderGCP, "gcp-1", &models.ScheduleConfig{Frequency: models.FrequencyDaily, Hour: 1})
	addAccount(t, s, st, models.ProviderAzure, "azure-1", &models.ScheduleConfig{Frequency: models.FrequencyDaily, Hour: 1})
	addAccount(t, s, st, models.ProviderAWS, "unscheduled", nil)

	c.Set(ts("2024-01-01T01:00:00Z"))
	got, err := s.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("attempts: got %d; want 3", len(got))
	}

	outcomes := map[string]models.ScanOutcome{}
	for _, a := range got {
		outcomes[a.AccountID] = a.Outcome
		if !a.NextRun.Equal(ts("2024-01-02T01:00:00Z")) {
			t.Errorf("%s next run: got %v", a.AccountID, a.NextRun)
		}
	}
	want := map[string]models.ScanOutcome{
		"aws-1":   models.OutcomeTriggered,
		"gcp-1":   models.OutcomeSkippedRunning,
		"azure-1": models.OutcomeFailed,
	}
	for id, o := range want {
		if outcomes[id] != o {
			t.Errorf("%s: got %q; want %q", id, outcomes[id], o)
		}
	}

	logs, _ := st.ScanLogs.ListByAccount(ctx, "azure-1")
	if len(logs) != 1 || logs[0].Error == "" {
		t.Errorf("failed attempt log: %+v", logs)
	}
}

func TestTick_MissedTicksRecomputeFromNow(t *testing.T) {
	trig := &fakeTrigger{}
	s, st, c := newScheduler(t, trig, ts("2024-01-01T10:00:00Z"))
	ctx := context.Background()
	addAccount(t, s, st, models.ProviderAWS, "acc-1", daily2)

	// Process down for five days.
	c.Set(ts("2024-01-07T09:00:00Z"))
	got, _ := s.Tick(ctx)
	if len(got) != 1 || trig.callCount() != 1 {
		t.Fatalf("expected one catch-up trigger, got %d attempts", len(got))
	}
	acct, _ := st.Accounts.Get(ctx, models.ProviderAWS, "acc-1")
	if !acct.NextScheduledScan.Equal(ts("2024-01-08T02:00:00Z")) {
		t.Fatalf("next scan: got %v; want 2024-01-08T02:00Z", acct.NextScheduledScan)
	}
}

func TestTick_OverlappingTickSkipped(t *testing.T) {
	trig := &fakeTrigger{block: make(chan struct{})}
	s, st, c := newScheduler(t, trig, ts("2024-01-01T10:00:00Z"))
	ctx := context.Background()
	addAccount(t, s, st, models.ProviderAWS, "acc-1", daily2)
	c.Set(ts("2024-01-02T03:00:00Z"))

	first := make(chan []Attempt)
	go func() {
		got, _ := s.Tick(ctx)
		first <- got
	}()

	// Wait until the first tick holds the lock.
	deadline := time.Now().Add(2 * time.Second)
	for s.tickMu.TryLock() {
		s.tickMu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("first tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	if got, err := s.Tick(ctx); err != nil || got != nil {
		t.Fatalf("overlapping tick: got %v, %v; want nil, nil", got, err)
	}
	close(trig.block)
	if got := <-first; len(got) != 1 {
		t.Fatalf("first tick: %d attempts", len(got))
	}
	if trig.callCount() != 1 {
		t.Fatalf("trigger calls: got %d; want 1", trig.callCount())
	}
}

// ── lifecycle ────────────────────────────────────────────────────────────────

func TestStartStop_InitialTickAndDrain(t *testing.T) {
	trig := &fakeTrigger{}
	s, st, c := newScheduler(t, trig, ts("2024-01-01T10:00:00Z"))
	addAccount(t, s, st, models.ProviderAWS, "acc-1", daily2)
	c.Set(ts("2024-01-02T05:00:00Z"))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start must fail")
	}
	if trig.callCount() != 1 {
		t.Errorf("initial tick: got %d calls; want 1", trig.callCount())
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !trig.drained {
		t.Error("stop did not drain the trigger")
	}
	if err := s.Stop(sctx); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestEnable_NilDisablesSchedule(t *testing.T) {
	trig := &fakeTrigger{}
	s, st, _ := newScheduler(t, trig, ts("2024-01-01T10:00:00Z"))
	ctx := context.Background()
	addAccount(t, s, st, models.ProviderAWS, "acc-1", daily2)

	if _, err := s.Enable(ctx, models.ProviderAWS, "acc-1", nil); err != nil {
		t.Fatal(err)
	}
	acct, _ := st.Accounts.Get(ctx, models.ProviderAWS, "acc-1")
	if acct.Schedule != nil || acct.NextScheduledScan != nil {
		t.Fatalf("schedule not cleared: %+v", acct)
	}
}

func TestEnable_RejectsInvalidSchedule(t *testing.T) {
	s, st, _ := newScheduler(t, &fakeTrigger{}, ts("2024-01-01T10:00:00Z"))
	ctx := context.Background()
	_ = st.Accounts.Create(ctx, &models.Account{ID: "acc-1", Provider: models.ProviderAWS})
	_, err := s.Enable(ctx, models.ProviderAWS, "acc-1", &models.ScheduleConfig{Frequency: models.FrequencyWeekly, Hour: 3})
	if !errors.Is(err, models.ErrInvalidSchedule) {
		t.Fatalf("got %v; want ErrInvalidSchedule", err)
	}
}
