package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/alert"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/archive"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/policy"
	awscommon "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/aws/common"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store/memory"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type plainOpener struct{}

func (plainOpener) Open(sealed []byte) (credentials.Secret, error) {
	if string(sealed) == "corrupt" {
		return nil, credentials.ErrMalformedSecret
	}
	return credentials.Secret(sealed), nil
}

type fakeHandle struct{}

func (fakeHandle) Provider() models.Provider { return models.ProviderAWS }
func (fakeHandle) AccountID() string         { return "123456789012" }
func (fakeHandle) Regions() []string         { return []string{"us-east-1"} }

type fakeProvider struct {
	authErr error
	release chan struct{}
	calls   atomic.Int32
}

func (p *fakeProvider) Name() models.Provider                              { return models.ProviderAWS }
func (p *fakeProvider) Validate(context.Context, credentials.Secret) error { return nil }
func (p *fakeProvider) CheckSecret(credentials.Secret) error               { return nil }

func (p *fakeProvider) Authenticate(ctx context.Context, _ credentials.Secret) (credentials.Handle, error) {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	if p.authErr != nil {
		return nil, p.authErr
	}
	return fakeHandle{}, nil
}

type fakeCheck struct {
	id       string
	phase    int
	severity models.Severity
	count    int
	err      error
	ran      *atomic.Int32
}

func (c fakeCheck) ID() string                { return c.id }
func (c fakeCheck) Name() string              { return c.id }
func (c fakeCheck) Phase() int                { return c.phase }
func (c fakeCheck) Provider() models.Provider { return models.ProviderAWS }
func (c fakeCheck) Global() bool              { return true }

func (c fakeCheck) Run(_ context.Context, _ credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	if c.ran != nil {
		c.ran.Add(1)
	}
	if c.err != nil {
		return nil, c.err
	}
	out := make([]models.Finding, c.count)
	for i := range out {
		out[i] = checks.NewFinding(c, c.severity, c.id+"-res", scope.Region)
	}
	return out, nil
}

type failingFindings struct {
	store.Findings
}

func (failingFindings) Append(context.Context, []models.Finding) error {
	return errors.New("connection reset")
}

// flakyAudits fails the first n Update calls.
type flakyAudits struct {
	store.Audits
	n atomic.Int32
}

func (a *flakyAudits) Update(ctx context.Context, au *models.Audit) error {
	if a.n.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return a.Audits.Update(ctx, au)
}

func withFlakyAudits(t *testing.T, f *fixture, failures int32) {
	t.Helper()
	prev := resultRetryInterval
	resultRetryInterval = time.Millisecond
	t.Cleanup(func() { resultRetryInterval = prev })

	fa := &flakyAudits{Audits: f.store.Audits}
	fa.n.Store(failures)
	st := *f.store
	st.Audits = fa
	f.deps.Store = &st
}

type recordingSender struct{ calls atomic.Int32 }

func (s *recordingSender) Send(context.Context, string, alert.Summary) error {
	s.calls.Add(1)
	return nil
}

type recordingArchiver struct{ reports []*archive.Report }

func (a *recordingArchiver) Archive(_ context.Context, r *archive.Report) (string, error) {
	a.reports = append(a.reports, r)
	return "key", nil
}

var fixedNow = time.Date(2024, 1, 2, 2, 1, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	prov  *fakeProvider
	deps  Deps
	opts  Options
}

func newFixture(t *testing.T, cs ...checks.Check) *fixture {
	t.Helper()
	st := memory.New()
	err := st.Accounts.Create(context.Background(), &models.Account{
		ID: "acc-1", Provider: models.ProviderAWS, Name: "prod",
		EncryptedSecret: []byte(`{"access_key_id":"AKIA"}`), OwnerID: "u-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := checks.NewRegistry()
	reg.RegisterAll(cs)
	prov := &fakeProvider{}
	return &fixture{
		store: st,
		prov:  prov,
		deps: Deps{
			Store:       st,
			Credentials: credentials.NewRegistry(prov),
			Checks:      reg,
			Secrets:     plainOpener{},
		},
		opts: Options{Clock: func() time.Time { return fixedNow }},
	}
}

func (f *fixture) orchestrator() *Orchestrator { return New(f.deps, f.opts) }

func (f *fixture) runAudit(t *testing.T) *models.Audit {
	t.Helper()
	a, err := f.orchestrator().RunAudit(context.Background(), models.ProviderAWS, "acc-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("RunAudit: %v", err)
	}
	return a
}

func phaseByNumber(t *testing.T, ps []models.Phase, n int) models.Phase {
	t.Helper()
	for _, p := range ps {
		if p.Number == n {
			return p
		}
	}
	t.Fatalf("phase %d not found", n)
	return models.Phase{}
}

// ── lifecycle ────────────────────────────────────────────────────────────────

func TestRunAudit_CompletesWithAggregatesAndRisk(t *testing.T) {
	f := newFixture(t,
		fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityCritical, count: 2},
		fakeCheck{id: "AWS-T-002", phase: 4, severity: models.SeverityHigh, count: 1},
		fakeCheck{id: "AWS-T-003", phase: 4, severity: models.SeverityLow, count: 2},
		fakeCheck{id: "AWS-T-004", phase: 5, err: errors.New("access denied")},
	)

	a := f.runAudit(t)
	if a.Status != models.AuditCompleted {
		t.Fatalf("status: got %q; want completed (error %q)", a.Status, a.Error)
	}
	s := a.Summary
	if s.CriticalFindings != 2 || s.HighFindings != 1 || s.LowFindings != 2 || s.MediumFindings != 0 {
		t.Errorf("summary: %+v", s)
	}
	if s.TotalFindings != s.CriticalFindings+s.HighFindings+s.MediumFindings+s.LowFindings {
		t.Errorf("total %d != sum of severities", s.TotalFindings)
	}
	if s.RiskScore != 74 {
		t.Errorf("risk score: got %v; want 74", s.RiskScore)
	}
	if a.CompletedAt == nil || !a.CompletedAt.Equal(fixedNow) {
		t.Errorf("completedAt: got %v", a.CompletedAt)
	}

	stored, err := f.store.Audits.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.AuditCompleted || stored.Summary != a.Summary {
		t.Errorf("stored audit differs: %+v", stored)
	}

	ps, _ := f.store.Phases.ListByAudit(context.Background(), a.ID)
	if len(ps) != len(checks.Catalogue) {
		t.Fatalf("phases: got %d; want %d", len(ps), len(checks.Catalogue))
	}
	if p := phaseByNumber(t, ps, 1); p.Status != models.PhaseCompleted || p.Summary.CriticalFindings != 2 {
		t.Errorf("phase 1: %+v", p)
	}
	if p := phaseByNumber(t, ps, 5); p.Status != models.PhaseFailed || len(p.Errors) != 1 {
		t.Errorf("phase 5: %+v", p)
	}
	if p := phaseByNumber(t, ps, 2); p.Status != models.PhaseSkipped {
		t.Errorf("phase 2 without checks: got %q; want skipped", p.Status)
	}

	fs, _ := f.store.Findings.ListByAudit(context.Background(), a.ID)
	if len(fs) != 5 {
		t.Errorf("stored findings: got %d; want 5", len(fs))
	}
	for _, fd := range fs {
		if fd.AuditID != a.ID {
			t.Errorf("finding %s not linked to audit", fd.FindingID)
		}
	}

	acct, _ := f.store.Accounts.Get(context.Background(), models.ProviderAWS, "acc-1")
	if acct.LastScanAt == nil || !acct.LastScanAt.Equal(fixedNow) {
		t.Errorf("lastScanAt: got %v", acct.LastScanAt)
	}
}

func TestRunAudit_AuthFailureFailsWithoutRunningPhases(t *testing.T) {
	var ran atomic.Int32
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityHigh, count: 1, ran: &ran})
	f.prov.authErr = credentials.ErrAuthRejected

	a := f.runAudit(t)
	if a.Status != models.AuditFailed {
		t.Fatalf("status: got %q; want failed", a.Status)
	}
	if !strings.Contains(a.Error, "authentication failed") {
		t.Errorf("error: %q", a.Error)
	}
	if a.CompletedAt == nil {
		t.Error("completedAt must be set on failure")
	}
	if ran.Load() != 0 {
		t.Errorf("check ran %d times; want 0", ran.Load())
	}
	ps, _ := f.store.Phases.ListByAudit(context.Background(), a.ID)
	for _, p := range ps {
		if p.Status != models.PhasePending {
			t.Fatalf("phase %d: got %q; want pending", p.Number, p.Status)
		}
	}
}

func TestRunAudit_EveryPhaseFailedFailsAudit(t *testing.T) {
	f := newFixture(t,
		fakeCheck{id: "AWS-T-001", phase: 1, err: errors.New("throttled")},
		fakeCheck{id: "AWS-T-002", phase: 3, err: errors.New("throttled")},
	)
	a := f.runAudit(t)
	if a.Status != models.AuditFailed {
		t.Fatalf("status: got %q; want failed", a.Status)
	}
	if a.Summary.TotalFindings != 0 {
		t.Errorf("failed audit must carry no aggregates: %+v", a.Summary)
	}
}

func TestRunAudit_NoChecksCompletesWithFullScore(t *testing.T) {
	f := newFixture(t)
	a := f.runAudit(t)
	if a.Status != models.AuditCompleted {
		t.Fatalf("status: got %q; want completed", a.Status)
	}
	if a.Summary.RiskScore != 100 {
		t.Errorf("risk score: got %v; want 100", a.Summary.RiskScore)
	}
}

func TestRunAudit_PersistenceErrorFailsAudit(t *testing.T) {
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityHigh, count: 1})
	st := *f.store
	st.Findings = failingFindings{f.store.Findings}
	f.deps.Store = &st

	a, err := f.orchestrator().RunAudit(context.Background(), models.ProviderAWS, "acc-1", models.TriggerManual)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	stored, gerr := f.store.Audits.Get(context.Background(), a.ID)
	if gerr != nil {
		t.Fatal(gerr)
	}
	if stored.Status != models.AuditFailed || !strings.Contains(stored.Error, "persist findings") {
		t.Errorf("stored audit: status %q error %q", stored.Status, stored.Error)
	}
	if stored.CompletedAt == nil {
		t.Error("completedAt must be set")
	}
}

func TestRunAudit_TerminalWriteIsRetried(t *testing.T) {
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityLow, count: 1})
	withFlakyAudits(t, f, 1)
	ctx := context.Background()

	a, err := f.orchestrator().RunAudit(ctx, models.ProviderAWS, "acc-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("RunAudit: %v", err)
	}
	stored, _ := f.store.Audits.Get(ctx, a.ID)
	if stored.Status != models.AuditCompleted {
		t.Fatalf("stored status %q; want completed", stored.Status)
	}
	if res := f.orchestrator().TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerScheduled); !res.Success {
		t.Errorf("next trigger: %+v", res)
	}
}

func TestRunAudit_ExpiredRunningAuditIsFailedOnNextTrigger(t *testing.T) {
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityLow, count: 1})
	withFlakyAudits(t, f, 100)
	ctx := context.Background()

	stuck, err := f.orchestrator().RunAudit(ctx, models.ProviderAWS, "acc-1", models.TriggerManual)
	if err == nil {
		t.Fatal("expected terminal write to fail")
	}
	if got, _ := f.store.Audits.Get(ctx, stuck.ID); got.Status != models.AuditRunning {
		t.Fatalf("stuck audit status %q; want running", got.Status)
	}

	// A restarted process within the age limit still sees the account busy.
	f.deps.Store = f.store
	f.opts.MaxAuditAge = time.Hour
	f.opts.Clock = func() time.Time { return fixedNow.Add(30 * time.Minute) }
	if _, err := f.orchestrator().RunAudit(ctx, models.ProviderAWS, "acc-1", models.TriggerManual); !errors.Is(err, ErrAuditInProgress) {
		t.Fatalf("within age limit: got %v; want ErrAuditInProgress", err)
	}

	f.opts.Clock = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	next, err := f.orchestrator().RunAudit(ctx, models.ProviderAWS, "acc-1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("after age limit: %v", err)
	}
	if next.Status != models.AuditCompleted {
		t.Errorf("new audit status %q; want completed", next.Status)
	}
	old, _ := f.store.Audits.Get(ctx, stuck.ID)
	if old.Status != models.AuditFailed || !strings.HasPrefix(old.Error, "interrupted") {
		t.Errorf("stuck audit: status %q error %q; want failed interrupted", old.Status, old.Error)
	}
}

func TestRecoverInterrupted_FailsRunningAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	leftover := &models.Audit{AccountID: "acc-1", Provider: models.ProviderAWS, Status: models.AuditRunning, StartedAt: fixedNow.Add(-time.Minute)}
	if err := f.store.Audits.Create(ctx, leftover, nil); err != nil {
		t.Fatal(err)
	}

	o := f.orchestrator()
	n, err := o.RecoverInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverInterrupted = %d, %v; want 1, nil", n, err)
	}
	got, _ := f.store.Audits.Get(ctx, leftover.ID)
	if got.Status != models.AuditFailed || got.CompletedAt == nil {
		t.Errorf("leftover audit: %+v", got)
	}
	if res := o.TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerManual); !res.Success {
		t.Errorf("trigger after recovery: %+v", res)
	}
	_ = o.Drain(ctx)
}

// ── policy ───────────────────────────────────────────────────────────────────

func TestRunAudit_PolicyDisablesPhaseAndOverridesSeverity(t *testing.T) {
	var ran atomic.Int32
	f := newFixture(t,
		fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityLow, count: 1},
		fakeCheck{id: "AWS-T-002", phase: 4, severity: models.SeverityHigh, count: 1, ran: &ran},
	)
	off := false
	f.opts.Policy = &policy.Config{
		Version: 1,
		Phases:  map[int]policy.PhaseConfig{4: {Enabled: &off}},
		Checks:  map[string]policy.CheckConfig{"AWS-T-001": {Severity: "CRITICAL"}},
	}

	a := f.runAudit(t)
	if ran.Load() != 0 {
		t.Error("check of disabled phase ran")
	}
	if a.Summary.CriticalFindings != 1 || a.Summary.LowFindings != 0 || a.Summary.HighFindings != 0 {
		t.Errorf("summary: %+v", a.Summary)
	}
}

// ── exclusivity ──────────────────────────────────────────────────────────────

func TestTriggerScan_SecondTriggerRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 1, severity: models.SeverityMedium, count: 1})
	f.prov.release = make(chan struct{})
	o := f.orchestrator()
	ctx := context.Background()

	first := o.TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerManual)
	if !first.Success || first.AuditID == "" {
		t.Fatalf("first trigger: %+v", first)
	}
	second := o.TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerScheduled)
	if second.Success || !errors.Is(second.Err, ErrAuditInProgress) {
		t.Fatalf("second trigger: got %+v; want ErrAuditInProgress", second)
	}

	audits, _ := f.store.Audits.ListByAccount(ctx, "acc-1")
	if len(audits) != 1 || audits[0].Status != models.AuditRunning {
		t.Fatalf("audits while running: %+v", audits)
	}

	close(f.prov.release)
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.Drain(dctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	done, _ := f.store.Audits.Get(ctx, first.AuditID)
	if done.Status != models.AuditCompleted {
		t.Errorf("first audit: got %q; want completed", done.Status)
	}
	if third := o.TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerManual); !third.Success {
		t.Errorf("trigger after completion: %+v", third)
	}
	_ = o.Drain(dctx)
}

func TestTriggerScan_PersistedRunningAuditRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.Audits.Create(ctx, &models.Audit{AccountID: "acc-1", Status: models.AuditRunning, StartedAt: fixedNow}, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := f.orchestrator().TriggerScan(ctx, models.ProviderAWS, "acc-1", models.TriggerScheduled)
	if !errors.Is(res.Err, ErrAuditInProgress) {
		t.Fatalf("got %+v; want ErrAuditInProgress", res)
	}
}

func TestTriggerScan_MalformedSecretRejectedBeforeAuditStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.Accounts.Create(ctx, &models.Account{ID: "acc-2", Provider: models.ProviderAWS, EncryptedSecret: []byte("corrupt")})

	res := f.orchestrator().TriggerScan(ctx, models.ProviderAWS, "acc-2", models.TriggerManual)
	if res.Success || !errors.Is(res.Err, credentials.ErrMalformedSecret) {
		t.Fatalf("got %+v; want ErrMalformedSecret", res)
	}
	if audits, _ := f.store.Audits.ListByAccount(ctx, "acc-2"); len(audits) != 0 {
		t.Errorf("audit created for malformed secret: %+v", audits)
	}
	if f.prov.calls.Load() != 0 {
		t.Error("provider called for malformed secret")
	}
}

func TestRunAudit_IncompleteSecretRejectedBeforeAuditStarts(t *testing.T) {
	f := newFixture(t)
	f.deps.Credentials = credentials.NewRegistry(awscommon.NewDefaultAWSClientProvider())
	ctx := context.Background()
	_ = f.store.Accounts.Create(ctx, &models.Account{ID: "acc-2", Provider: models.ProviderAWS, EncryptedSecret: []byte(`{"region":"us-east-1"}`)})

	a, err := f.orchestrator().RunAudit(ctx, models.ProviderAWS, "acc-2", models.TriggerManual)
	if a != nil || !errors.Is(err, credentials.ErrMalformedSecret) {
		t.Fatalf("got %v, %v; want ErrMalformedSecret", a, err)
	}
	if audits, _ := f.store.Audits.ListByAccount(ctx, "acc-2"); len(audits) != 0 {
		t.Errorf("audit created for incomplete secret: %+v", audits)
	}
}

func TestTriggerScan_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	res := f.orchestrator().TriggerScan(context.Background(), models.ProviderAWS, "missing", models.TriggerManual)
	if !errors.Is(res.Err, store.ErrNotFound) {
		t.Fatalf("got %+v; want ErrNotFound", res)
	}
}

// ── completion side effects ──────────────────────────────────────────────────

func TestRunAudit_DispatchesAlertsAndArchives(t *testing.T) {
	f := newFixture(t, fakeCheck{id: "AWS-T-001", phase: 4, severity: models.SeverityCritical, count: 1})
	slack := &recordingSender{}
	f.deps.Alerts = alert.NewDispatcher(map[models.Channel]alert.Sender{models.ChannelSlack: slack}, nil)
	arch := &recordingArchiver{}
	f.deps.Archiver = arch

	err := f.store.Notifications.Put(context.Background(), &models.NotificationConfig{
		UserID: "u-1",
		Channels: map[models.Channel]models.ChannelConfig{
			models.ChannelSlack: {Enabled: true, AlertOnCritical: true, Target: "https://hooks.example/x"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	a := f.runAudit(t)
	if slack.calls.Load() != 1 {
		t.Errorf("slack sends: got %d; want 1", slack.calls.Load())
	}
	if len(arch.reports) != 1 || arch.reports[0].Audit.ID != a.ID || len(arch.reports[0].Findings) != 1 {
		t.Errorf("archived reports: %+v", arch.reports)
	}
}

func TestRunAudit_FailedAuditDoesNotAlert(t *testing.T) {
	f := newFixture(t)
	f.prov.authErr = credentials.ErrAuthRejected
	slack := &recordingSender{}
	f.deps.Alerts = alert.NewDispatcher(map[models.Channel]alert.Sender{models.ChannelSlack: slack}, nil)
	_ = f.store.Notifications.Put(context.Background(), &models.NotificationConfig{
		UserID:   "u-1",
		Channels: map[models.Channel]models.ChannelConfig{models.ChannelSlack: {Enabled: true, AlertOnCritical: true, Target: "x"}},
	})

	f.runAudit(t)
	if slack.calls.Load() != 0 {
		t.Errorf("failed audit sent %d alerts", slack.calls.Load())
	}
}
