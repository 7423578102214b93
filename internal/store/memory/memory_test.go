package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

var ctx = context.Background()

func ptrTime(t time.Time) *time.Time { return &t }

// ── accounts ─────────────────────────────────────────────────────────────────

func TestAccounts_ListDueAcrossProviders(t *testing.T) {
	s := New()
	now := time.Date(2024, 1, 2, 2, 1, 0, 0, time.UTC)
	daily := &models.ScheduleConfig{Frequency: models.FrequencyDaily, Hour: 2}

	for _, a := range []*models.Account{
		{ID: "due-aws", Provider: models.ProviderAWS, Schedule: daily, NextScheduledScan: ptrTime(now.Add(-time.Minute))},
		{ID: "due-gcp", Provider: models.ProviderGCP, Schedule: daily, NextScheduledScan: ptrTime(now)},
		{ID: "later", Provider: models.ProviderAzure, Schedule: daily, NextScheduledScan: ptrTime(now.Add(time.Hour))},
		{ID: "disabled", Provider: models.ProviderAWS},
	} {
		if err := s.Accounts.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	due, err := s.Accounts.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 2 || due[0].ID != "due-aws" || due[1].ID != "due-gcp" {
		t.Errorf("got %v; want due-aws, due-gcp", due)
	}
}

func TestAccounts_UpdateScheduleNilClearsNextScan(t *testing.T) {
	s := New()
	a := &models.Account{ID: "a", Provider: models.ProviderAWS}
	_ = s.Accounts.Create(ctx, a)
	next := time.Now()
	if err := s.Accounts.UpdateSchedule(ctx, models.ProviderAWS, "a", &models.ScheduleConfig{Frequency: models.FrequencyDaily}, &next); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if err := s.Accounts.UpdateSchedule(ctx, models.ProviderAWS, "a", nil, &next); err != nil {
		t.Fatalf("UpdateSchedule(nil): %v", err)
	}
	got, _ := s.Accounts.Get(ctx, models.ProviderAWS, "a")
	if got.Schedule != nil || got.NextScheduledScan != nil {
		t.Errorf("got schedule=%v next=%v; want both nil", got.Schedule, got.NextScheduledScan)
	}
}

func TestAccounts_GetWrongProviderIsNotFound(t *testing.T) {
	s := New()
	_ = s.Accounts.Create(ctx, &models.Account{ID: "a", Provider: models.ProviderAWS})
	if _, err := s.Accounts.Get(ctx, models.ProviderGCP, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v; want ErrNotFound", err)
	}
}

// ── audits ───────────────────────────────────────────────────────────────────

func TestAudits_SecondRunningAuditIsRejected(t *testing.T) {
	s := New()
	first := &models.Audit{AccountID: "a", Status: models.AuditRunning}
	if err := s.Audits.Create(ctx, first, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Audits.Create(ctx, &models.Audit{AccountID: "a", Status: models.AuditRunning}, nil)
	if !errors.Is(err, store.ErrAuditInProgress) {
		t.Errorf("got %v; want ErrAuditInProgress", err)
	}

	first.Status = models.AuditCompleted
	_ = s.Audits.Update(ctx, first)
	if err := s.Audits.Create(ctx, &models.Audit{AccountID: "a", Status: models.AuditRunning}, nil); err != nil {
		t.Errorf("after completion: %v", err)
	}
}

func TestAudits_PhasesOrderedAndDeleteCascades(t *testing.T) {
	s := New()
	a := &models.Audit{AccountID: "a", Status: models.AuditRunning}
	_ = s.Audits.Create(ctx, a, []models.Phase{{Number: 2}, {Number: 1}})

	ps, _ := s.Phases.ListByAudit(ctx, a.ID)
	if len(ps) != 2 || ps[0].Number != 1 || ps[0].AuditID != a.ID {
		t.Fatalf("phases: got %+v", ps)
	}

	fs := []models.Finding{{AuditID: a.ID, PhaseNumber: 1, Severity: models.SeverityLow}}
	_ = s.Findings.Append(ctx, fs)
	if fs[0].ID == "" || fs[0].Status != models.FindingOpen {
		t.Errorf("append: id=%q status=%q", fs[0].ID, fs[0].Status)
	}

	if err := s.Audits.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Findings.ListByAudit(ctx, a.ID); len(got) != 0 {
		t.Errorf("findings after delete: %d", len(got))
	}
	if err := s.Findings.UpdateStatus(ctx, fs[0].ID, models.FindingResolved); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update after delete: got %v; want ErrNotFound", err)
	}
}

func TestAudits_FailStaleReleasesAccount(t *testing.T) {
	s := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	old := &models.Audit{ID: "old", AccountID: "acc-1", Status: models.AuditRunning, StartedAt: t0}
	fresh := &models.Audit{ID: "fresh", AccountID: "acc-2", Status: models.AuditRunning, StartedAt: t0.Add(2 * time.Hour)}
	if err := s.Audits.Create(ctx, old, []models.Phase{{Number: 1, Status: models.PhaseRunning}, {Number: 2, Status: models.PhasePending}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Audits.Create(ctx, fresh, []models.Phase{{Number: 1, Status: models.PhaseRunning}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := s.Audits.FailStale(ctx, t0.Add(time.Hour), t0.Add(3*time.Hour), "interrupted")
	if err != nil || n != 1 {
		t.Fatalf("FailStale = %d, %v; want 1, nil", n, err)
	}

	got, _ := s.Audits.Get(ctx, "old")
	if got.Status != models.AuditFailed || got.Error != "interrupted" || got.CompletedAt == nil {
		t.Errorf("old audit = %+v; want failed with reason and completion time", got)
	}
	ps, _ := s.Phases.ListByAudit(ctx, "old")
	if ps[0].Status != models.PhaseFailed || ps[1].Status != models.PhasePending {
		t.Errorf("phase statuses = %s, %s; want failed, pending", ps[0].Status, ps[1].Status)
	}
	if running, _ := s.Audits.HasRunning(ctx, "acc-1"); running {
		t.Error("acc-1 still has a running audit")
	}
	if running, _ := s.Audits.HasRunning(ctx, "acc-2"); !running {
		t.Error("fresh audit of acc-2 was failed")
	}
}

// ── findings ─────────────────────────────────────────────────────────────────

func TestFindings_UpdateStatusOnly(t *testing.T) {
	s := New()
	fs := []models.Finding{{AuditID: "x", Title: "t", Severity: models.SeverityHigh}}
	_ = s.Findings.Append(ctx, fs)
	if err := s.Findings.UpdateStatus(ctx, fs[0].ID, models.FindingIgnored); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := s.Findings.ListByAudit(ctx, "x")
	if got[0].Status != models.FindingIgnored || got[0].Title != "t" {
		t.Errorf("got %+v", got[0])
	}
}

// ── logs and notifications ───────────────────────────────────────────────────

func TestScanLogs_AppendOnlyPerAccount(t *testing.T) {
	s := New()
	_ = s.ScanLogs.Append(ctx, &models.ScheduledScanLog{AccountID: "a", Outcome: models.OutcomeTriggered})
	_ = s.ScanLogs.Append(ctx, &models.ScheduledScanLog{AccountID: "b", Outcome: models.OutcomeFailed})
	got, _ := s.ScanLogs.ListByAccount(ctx, "a")
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("got %+v", got)
	}
}

func TestNotifications_RoundTrip(t *testing.T) {
	s := New()
	if _, err := s.Notifications.Get(ctx, "u"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing: got %v", err)
	}
	cfg := &models.NotificationConfig{UserID: "u", Channels: map[models.Channel]models.ChannelConfig{
		models.ChannelSlack: {Enabled: true, AlertOnCritical: true},
	}}
	_ = s.Notifications.Put(ctx, cfg)
	got, err := s.Notifications.Get(ctx, "u")
	if err != nil || !got.Channels[models.ChannelSlack].Enabled {
		t.Errorf("got %+v, %v", got, err)
	}
}
