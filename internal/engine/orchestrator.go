package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/alert"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/archive"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/metrics"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/phase"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/policy"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

// ReportArchiver stores the report of a completed audit.
type ReportArchiver interface {
	Archive(ctx context.Context, r *archive.Report) (string, error)
}

// Deps are the collaborators of an Orchestrator. Alerts and Archiver are
// optional.
type Deps struct {
	Store       *store.Store
	Credentials *credentials.Registry
	Checks      *checks.Registry
	Secrets     SecretOpener
	Alerts      *alert.Dispatcher
	Archiver    ReportArchiver
	Metrics     *metrics.Metrics
}

// Options tunes how audits run.
type Options struct {
	// Concurrency caps concurrent check jobs per phase, per provider.
	// Providers absent from the map use phase.DefaultConcurrency.
	Concurrency map[models.Provider]int

	CheckTimeout time.Duration
	PhaseTimeout time.Duration

	Policy *policy.Config

	// MaxAuditAge is how long an audit may stay running. Older running
	// audits are failed as interrupted before a new one is created, which
	// frees accounts left running by a crashed process. Zero disables it.
	MaxAuditAge time.Duration

	// Clock overrides time.Now; tests pin it.
	Clock func() time.Time
}

// Orchestrator runs audits. It is safe for concurrent use; audits for
// different accounts run fully in parallel.
type Orchestrator struct {
	deps         Deps
	runners      map[models.Provider]*phase.Runner
	phaseTimeout time.Duration
	maxAuditAge  time.Duration
	policy       *policy.Config
	now          func() time.Time
	guard        *RunGuard
	inflight     sync.WaitGroup
}

var _ Trigger = (*Orchestrator)(nil)

// New returns an Orchestrator wired to d.
func New(d Deps, opts Options) *Orchestrator {
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	runners := make(map[models.Provider]*phase.Runner, len(models.Providers))
	for _, p := range models.Providers {
		runners[p] = phase.NewRunner(phase.Config{
			Concurrency:  opts.Concurrency[p],
			CheckTimeout: opts.CheckTimeout,
		}, d.Metrics)
	}
	return &Orchestrator{
		deps:         d,
		runners:      runners,
		phaseTimeout: opts.PhaseTimeout,
		maxAuditAge:  opts.MaxAuditAge,
		policy:       opts.Policy,
		now:          now,
		guard:        NewRunGuard(),
	}
}

// run is one audit in flight.
type run struct {
	account *models.Account
	audit   *models.Audit
	phases  []models.Phase
	secret  credentials.Secret
	prov    credentials.Provider
}

// TriggerScan starts an audit for the account and returns as soon as the
// audit and its phases are persisted; the phases then run in the
// background. A second trigger while the account is running is rejected
// with ErrAuditInProgress.
func (o *Orchestrator) TriggerScan(ctx context.Context, provider models.Provider, accountID string, source models.TriggerSource) TriggerResult {
	r, err := o.begin(ctx, provider, accountID, source)
	if err != nil {
		return failed(err)
	}

	// The run outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer o.guard.Release(r.account.ID)
		o.execute(bg, r)
	}()
	return TriggerResult{Success: true, AuditID: r.audit.ID}
}

// RunAudit is the synchronous variant of TriggerScan. It returns the
// finalised audit; a failed audit is returned with a nil error.
func (o *Orchestrator) RunAudit(ctx context.Context, provider models.Provider, accountID string, source models.TriggerSource) (*models.Audit, error) {
	r, err := o.begin(ctx, provider, accountID, source)
	if err != nil {
		return nil, err
	}
	o.inflight.Add(1)
	defer o.inflight.Done()
	defer o.guard.Release(r.account.ID)

	if err := o.execute(ctx, r); err != nil {
		return r.audit, err
	}
	return r.audit, nil
}

// Drain blocks until every in-flight audit has finished or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterrupted fails every audit still marked running. Call it once at
// startup, before any audit is triggered, when this process is the only one
// using the store.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	now := o.now()
	n, err := o.deps.Store.Audits.FailStale(ctx, now.Add(time.Nanosecond), now, "interrupted: process stopped before the audit finished")
	if err != nil {
		return 0, fmt.Errorf("recover interrupted audits: %w", err)
	}
	if n > 0 {
		zerolog.Ctx(ctx).Warn().Int("audits", n).Msg("failed audits interrupted by a previous shutdown")
	}
	return n, nil
}

// failExpired fails running audits older than MaxAuditAge.
func (o *Orchestrator) failExpired(ctx context.Context) error {
	if o.maxAuditAge <= 0 {
		return nil
	}
	now := o.now()
	reason := fmt.Sprintf("interrupted: still running after %s", o.maxAuditAge)
	n, err := o.deps.Store.Audits.FailStale(ctx, now.Add(-o.maxAuditAge), now, reason)
	if err != nil {
		return fmt.Errorf("fail expired audits: %w", err)
	}
	if n > 0 {
		zerolog.Ctx(ctx).Warn().Int("audits", n).Dur("max_age", o.maxAuditAge).Msg("failed expired running audits")
	}
	return nil
}

// begin validates configuration, takes the per-account guard and persists
// the running audit with all catalogue phases pending. On success the
// caller owns the guard and must release it.
func (o *Orchestrator) begin(ctx context.Context, provider models.Provider, accountID string, source models.TriggerSource) (*run, error) {
	acct, err := o.deps.Store.Accounts.Get(ctx, provider, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s/%s: %w", provider, accountID, err)
	}
	prov, err := o.deps.Credentials.Get(provider)
	if err != nil {
		return nil, err
	}
	secret, err := o.deps.Secrets.Open(acct.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.ID, err)
	}
	if err := prov.CheckSecret(secret); err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.ID, err)
	}

	if !o.guard.TryAcquire(acct.ID) {
		return nil, ErrAuditInProgress
	}
	r, err := o.create(ctx, acct, source)
	if err != nil {
		o.guard.Release(acct.ID)
		return nil, err
	}
	r.secret = secret
	r.prov = prov
	return r, nil
}

func (o *Orchestrator) create(ctx context.Context, acct *models.Account, source models.TriggerSource) (*run, error) {
	if err := o.failExpired(ctx); err != nil {
		return nil, err
	}
	running, err := o.deps.Store.Audits.HasRunning(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("check running audits: %w", err)
	}
	if running {
		return nil, ErrAuditInProgress
	}

	a := &models.Audit{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		Provider:  acct.Provider,
		Status:    models.AuditRunning,
		Trigger:   source,
		StartedAt: o.now(),
	}
	phases := make([]models.Phase, len(checks.Catalogue))
	for i, spec := range checks.Catalogue {
		phases[i] = models.Phase{AuditID: a.ID, Number: spec.Number, Name: spec.Name, Status: models.PhasePending}
	}
	if err := o.deps.Store.Audits.Create(ctx, a, phases); err != nil {
		if errors.Is(err, store.ErrAuditInProgress) {
			return nil, ErrAuditInProgress
		}
		return nil, fmt.Errorf("create audit: %w", err)
	}
	return &run{account: acct, audit: a, phases: phases}, nil
}

// execute drives the run to its terminal state. The returned error is the
// cause of an aborted run (persistence failure); authentication failure and
// all-phases-failed are ordinary failed audits and return nil.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	logger := zerolog.Ctx(ctx).With().
		Str("audit_id", r.audit.ID).
		Str("account_id", r.account.ID).
		Str("provider", string(r.account.Provider)).
		Logger()
	ctx = logger.WithContext(ctx)

	o.deps.Metrics.AuditStarted()
	logger.Info().Str("trigger", string(r.audit.Trigger)).Msg("audit started")

	h, err := r.prov.Authenticate(ctx, r.secret)
	r.secret = nil
	if err != nil {
		return o.finish(ctx, r, models.AuditFailed, fmt.Errorf("authentication failed: %w", err))
	}

	var (
		all                    []models.Finding
		completed, failedCount int
	)
	for i := range r.phases {
		p := &r.phases[i]
		findings, err := o.runPhase(ctx, r, h, p)
		if err != nil {
			o.finish(ctx, r, models.AuditFailed, err)
			return err
		}
		switch p.Status {
		case models.PhaseCompleted:
			completed++
			all = append(all, findings...)
		case models.PhaseFailed:
			failedCount++
		}
	}

	r.audit.Summary = computeSummary(all)
	// Skipped phases did not run, so they count neither way: the audit
	// fails when every phase that ran failed.
	if completed == 0 && failedCount > 0 {
		return o.finish(ctx, r, models.AuditFailed, errors.New("every phase failed"))
	}
	return o.finish(ctx, r, models.AuditCompleted, nil)
}

// runPhase runs and persists one phase. Only persistence errors are
// returned; check failures are recorded on the phase.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, h credentials.Handle, p *models.Phase) ([]models.Finding, error) {
	if !o.policy.PhaseEnabled(p.Number) {
		p.Status = models.PhaseSkipped
		return nil, o.persistPhase(ctx, p)
	}

	var units []checks.Check
	for _, c := range o.deps.Checks.ForPhase(r.account.Provider, p.Number) {
		if o.policy.CheckEnabled(c.ID()) {
			units = append(units, c)
		}
	}

	onStart := func(ctx context.Context) error {
		started := o.now()
		p.Status = models.PhaseRunning
		p.StartedAt = &started
		return o.persistPhase(ctx, p)
	}
	spec := phase.Spec{Number: p.Number, Name: p.Name, Checks: units, Timeout: o.phaseTimeout}
	res, err := o.runners[r.account.Provider].Run(ctx, spec, h, onStart)
	if err != nil {
		return nil, err
	}

	findings := policy.Apply(res.Findings, o.policy)
	for i := range findings {
		findings[i].AuditID = r.audit.ID
		findings[i].PhaseNumber = p.Number
	}
	if len(findings) > 0 {
		if err := o.deps.Store.Findings.Append(ctx, findings); err != nil {
			return nil, fmt.Errorf("persist findings of phase %d: %w", p.Number, err)
		}
	}

	p.Status = res.Status
	p.Summary = computeSummary(findings)
	p.Errors = nil
	for _, ue := range res.Errors {
		p.Errors = append(p.Errors, ue.String())
	}
	if res.Status != models.PhaseSkipped {
		done := o.now()
		p.CompletedAt = &done
	}
	if err := o.persistPhase(ctx, p); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Int("phase", p.Number).
		Str("status", string(p.Status)).
		Int("findings", len(findings)).
		Int("check_errors", len(res.Errors)).
		Msg("phase finished")
	return findings, nil
}

func (o *Orchestrator) persistPhase(ctx context.Context, p *models.Phase) error {
	if err := o.deps.Store.Phases.Update(ctx, p); err != nil {
		return fmt.Errorf("persist phase %d: %w", p.Number, err)
	}
	return nil
}

// finish performs the single terminal transition. cause is nil for a
// completed audit. The returned error is non-nil only when the terminal
// state itself could not be persisted.
func (o *Orchestrator) finish(ctx context.Context, r *run, status models.AuditStatus, cause error) error {
	log := zerolog.Ctx(ctx)
	at := o.now()

	a := r.audit
	a.Status = status
	a.CompletedAt = &at
	if cause != nil {
		a.Error = cause.Error()
		a.Summary = models.AuditSummary{}
	}

	o.deps.Metrics.AuditFinished(string(a.Provider), string(status))
	if err := o.persistResult(ctx, a); err != nil {
		log.Error().Err(err).Msg("persist audit result")
		return fmt.Errorf("persist audit result: %w", err)
	}
	if err := o.deps.Store.Accounts.MarkScanned(ctx, r.account.Provider, r.account.ID, at); err != nil {
		log.Warn().Err(err).Msg("record last scan time")
	}

	if status == models.AuditFailed {
		log.Warn().Str("error", a.Error).Msg("audit failed")
		return nil
	}
	log.Info().
		Int("total", a.Summary.TotalFindings).
		Int("critical", a.Summary.CriticalFindings).
		Int("high", a.Summary.HighFindings).
		Float64("risk_score", a.Summary.RiskScore).
		Msg("audit completed")

	o.notify(ctx, r)
	o.archive(ctx, r)
	return nil
}

// resultRetryInterval is the first wait before retrying the terminal write.
var resultRetryInterval = 200 * time.Millisecond

// persistResult writes the terminal audit state, retrying a few times. The
// write is detached from ctx cancellation so a cancelled caller still leaves
// a terminal state behind.
func (o *Orchestrator) persistResult(ctx context.Context, a *models.Audit) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = resultRetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, 3), wctx)
	return backoff.RetryNotify(func() error {
		err := o.deps.Store.Audits.Update(wctx, a)
		if errors.Is(err, store.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, retry, func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Warn().Err(err).Dur("retry_in", wait).Msg("persist audit result")
	})
}

// notify dispatches alerts for a completed audit. Failures are logged by
// the dispatcher and never affect the audit.
func (o *Orchestrator) notify(ctx context.Context, r *run) {
	if o.deps.Alerts == nil || r.account.OwnerID == "" {
		return
	}
	cfg, err := o.deps.Store.Notifications.Get(ctx, r.account.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("load notification config")
		return
	}
	o.deps.Alerts.Dispatch(ctx, *cfg, alert.NewSummary(r.account, r.audit))
}

func (o *Orchestrator) archive(ctx context.Context, r *run) {
	if o.deps.Archiver == nil {
		return
	}
	log := zerolog.Ctx(ctx)
	findings, err := o.deps.Store.Findings.ListByAudit(ctx, r.audit.ID)
	if err != nil {
		log.Warn().Err(err).Msg("load findings for archive")
		return
	}
	key, err := o.deps.Archiver.Archive(ctx, &archive.Report{
		Account:  archive.ReportAccount{ID: r.account.ID, Provider: r.account.Provider, Name: r.account.Name},
		Audit:    *r.audit,
		Phases:   r.phases,
		Findings: findings,
	})
	if err != nil {
		log.Warn().Err(err).Msg("archive audit report")
		return
	}
	log.Info().Str("object", key).Msg("audit report archived")
}
