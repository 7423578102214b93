// Package scheduler drives recurring audits. Each tick finds every account
// whose next scheduled scan is due, triggers it through the same entry
// point manual scans use, logs the attempt and moves the schedule forward.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/metrics"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

// DefaultInterval is the tick period used when Config.Interval is zero.
const DefaultInterval = time.Minute

// Config tunes the loop.
type Config struct {
	Interval time.Duration

	// Location is the time zone schedules are evaluated in. Nil means UTC.
	Location *time.Location

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Attempt records what one tick did for one due account.
type Attempt struct {
	AccountID string
	Provider  models.Provider
	Outcome   models.ScanOutcome
	AuditID   string
	Err       error
	NextRun   time.Time
}

type drainer interface {
	Drain(ctx context.Context) error
}

// Scheduler is the process-wide trigger loop. Start registers everything
// already due with an immediate tick; Stop ends the loop and drains
// in-flight audits.
type Scheduler struct {
	accounts store.Accounts
	logs     store.ScanLogs
	trigger  engine.Trigger
	metrics  *metrics.Metrics
	interval time.Duration
	loc      *time.Location
	clock    func() time.Time

	tickMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New returns a scheduler over st that starts audits through trigger.
func New(st *store.Store, trigger engine.Trigger, cfg Config, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		accounts: st.Accounts,
		logs:     st.ScanLogs,
		trigger:  trigger,
		metrics:  m,
		interval: cfg.Interval,
		loc:      cfg.Location,
		clock:    cfg.Clock,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Now returns the scheduler's current time in its location.
func (s *Scheduler) Now() time.Time {
	return s.clock().In(s.loc)
}

// Start runs one tick synchronously, then ticks every interval until Stop
// is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	log := zerolog.Ctx(ctx)
	log.Info().Dur("interval", s.interval).Str("location", s.loc.String()).Msg("scheduler starting")
	if _, err := s.Tick(ctx); err != nil {
		log.Error().Err(err).Msg("initial scheduler tick")
	}

	go s.loop(loopCtx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("scheduler tick")
			}
		}
	}
}

// Stop ends the loop, waits for a tick in progress and drains in-flight
// audits when the trigger supports it. ctx bounds the wait.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d, ok := s.trigger.(drainer); ok {
		return d.Drain(ctx)
	}
	return nil
}

// Tick processes every due account once. An overlapping tick returns
// immediately with no attempts. Per-account failures are logged and
// recorded; the returned error reports only failure to list due accounts.
func (s *Scheduler) Tick(ctx context.Context) ([]Attempt, error) {
	log := zerolog.Ctx(ctx)
	if !s.tickMu.TryLock() {
		log.Warn().Msg("previous scheduler tick still running; skipping")
		return nil, nil
	}
	defer s.tickMu.Unlock()

	now := s.Now()
	due, err := s.accounts.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	attempts := make([]Attempt, 0, len(due))
	for i := range due {
		attempts = append(attempts, s.process(ctx, &due[i], now))
	}
	if len(attempts) > 0 {
		log.Info().Int("due", len(attempts)).Msg("scheduler tick processed")
	}
	return attempts, nil
}

func (s *Scheduler) process(ctx context.Context, a *models.Account, now time.Time) Attempt {
	log := zerolog.Ctx(ctx).With().Str("account_id", a.ID).Str("provider", string(a.Provider)).Logger()
	at := Attempt{AccountID: a.ID, Provider: a.Provider}

	res := s.trigger.TriggerScan(ctx, a.Provider, a.ID, models.TriggerScheduled)
	switch {
	case res.Success:
		at.Outcome = models.OutcomeTriggered
		at.AuditID = res.AuditID
	case errors.Is(res.Err, engine.ErrAuditInProgress):
		at.Outcome = models.OutcomeSkippedRunning
		at.Err = res.Err
	default:
		at.Outcome = models.OutcomeFailed
		at.Err = res.Err
		if at.Err == nil {
			at.Err = errors.New(res.Error)
		}
	}
	s.metrics.SchedulerTrigger(string(at.Outcome))

	entry := &models.ScheduledScanLog{
		AccountID: a.ID,
		Provider:  a.Provider,
		AuditID:   at.AuditID,
		Outcome:   at.Outcome,
		CreatedAt: now,
	}
	if at.Err != nil {
		entry.Error = at.Err.Error()
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("append scheduled scan log")
	}

	// The schedule always moves forward from now, whatever the outcome.
	if a.Schedule != nil {
		next, err := NextRun(*a.Schedule, now)
		if err != nil {
			log.Error().Err(err).Msg("compute next run")
		} else if err := s.accounts.SetNextScheduledScan(ctx, a.Provider, a.ID, next); err != nil {
			log.Error().Err(err).Msg("store next scheduled scan")
		} else {
			at.NextRun = next
		}
	}

	ev := log.Info()
	if at.Err != nil {
		ev = log.Warn().Err(at.Err)
	}
	ev.Str("outcome", string(at.Outcome)).Str("audit_id", at.AuditID).Time("next_run", at.NextRun).Msg("scheduled scan")
	return at
}

// Enable validates cfg, stores it on the account and sets the first
// scheduled scan. A nil cfg disables scheduling.
func (s *Scheduler) Enable(ctx context.Context, provider models.Provider, accountID string, cfg *models.ScheduleConfig) (*time.Time, error) {
	if cfg == nil {
		return nil, s.accounts.UpdateSchedule(ctx, provider, accountID, nil, nil)
	}
	next, err := NextRun(*cfg, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateSchedule(ctx, provider, accountID, cfg, &next); err != nil {
		return nil, err
	}
	return &next, nil
}
