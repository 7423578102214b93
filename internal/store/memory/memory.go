// Package memory is a mutex-guarded in-process store used by tests and the
// local CLI.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

type accountKey struct {
	provider models.Provider
	id       string
}

type db struct {
	mu            sync.Mutex
	accounts      map[accountKey]models.Account
	audits        map[string]models.Audit
	phases        map[string][]models.Phase
	findings      map[string][]models.Finding
	findingAudit  map[string]string
	scanLogs      []models.ScheduledScanLog
	notifications map[string]models.NotificationConfig
}

// New returns an empty in-memory store.
func New() *store.Store {
	d := &db{
		accounts:      map[accountKey]models.Account{},
		audits:        map[string]models.Audit{},
		phases:        map[string][]models.Phase{},
		findings:      map[string][]models.Finding{},
		findingAudit:  map[string]string{},
		notifications: map[string]models.NotificationConfig{},
	}
	return &store.Store{
		Accounts:      &accounts{d},
		Audits:        &audits{d},
		Phases:        &phases{d},
		Findings:      &findings{d},
		ScanLogs:      &scanLogs{d},
		Notifications: &notifications{d},
	}
}

// ── accounts ─────────────────────────────────────────────────────────────────

type accounts struct{ *db }

func (s *accounts) Create(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.accounts[accountKey{a.Provider, a.ID}] = cloneAccount(*a)
	return nil
}

func (s *accounts) Get(_ context.Context, provider models.Provider, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey{provider, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneAccount(a)
	return &out, nil
}

func (s *accounts) List(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	sortAccounts(out)
	return out, nil
}

func (s *accounts) ListDue(_ context.Context, now time.Time) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.Schedule != nil && a.NextScheduledScan != nil && !a.NextScheduledScan.After(now) {
			out = append(out, cloneAccount(a))
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *accounts) UpdateSchedule(_ context.Context, provider models.Provider, id string, cfg *models.ScheduleConfig, next *time.Time) error {
	return s.update(provider, id, func(a *models.Account) {
		if cfg == nil {
			a.Schedule, a.NextScheduledScan = nil, nil
			return
		}
		c := *cfg
		a.Schedule = &c
		a.NextScheduledScan = copyTime(next)
	})
}

func (s *accounts) SetNextScheduledScan(_ context.Context, provider models.Provider, id string, next time.Time) error {
	return s.update(provider, id, func(a *models.Account) { a.NextScheduledScan = &next })
}

func (s *accounts) MarkScanned(_ context.Context, provider models.Provider, id string, at time.Time) error {
	return s.update(provider, id, func(a *models.Account) { a.LastScanAt = &at })
}

func (s *accounts) update(provider models.Provider, id string, fn func(*models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey{provider, id}
	a, ok := s.accounts[k]
	if !ok {
		return store.ErrNotFound
	}
	fn(&a)
	s.accounts[k] = a
	return nil
}

func sortAccounts(as []models.Account) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].Provider != as[j].Provider {
			return as[i].Provider < as[j].Provider
		}
		return as[i].ID < as[j].ID
	})
}

func cloneAccount(a models.Account) models.Account {
	if a.Schedule != nil {
		c := *a.Schedule
		a.Schedule = &c
	}
	a.NextScheduledScan = copyTime(a.NextScheduledScan)
	a.LastScanAt = copyTime(a.LastScanAt)
	a.EncryptedSecret = append([]byte(nil), a.EncryptedSecret...)
	return a
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ── audits ───────────────────────────────────────────────────────────────────

type audits struct{ *db }

func (s *audits) Create(_ context.Context, a *models.Audit, ps []models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == models.AuditRunning && s.hasRunning(a.AccountID) {
		return store.ErrAuditInProgress
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.audits[a.ID] = *a
	stored := make([]models.Phase, len(ps))
	for i, p := range ps {
		p.AuditID = a.ID
		stored[i] = p
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Number < stored[j].Number })
	s.phases[a.ID] = stored
	return nil
}

func (s *audits) Get(_ context.Context, id string) (*models.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.CompletedAt = copyTime(a.CompletedAt)
	return &a, nil
}

func (s *audits) Update(_ context.Context, a *models.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[a.ID]; !ok {
		return store.ErrNotFound
	}
	u := *a
	u.CompletedAt = copyTime(a.CompletedAt)
	s.audits[a.ID] = u
	return nil
}

func (s *audits) HasRunning(_ context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRunning(accountID), nil
}

func (d *db) hasRunning(accountID string) bool {
	for _, a := range d.audits {
		if a.AccountID == accountID && a.Status == models.AuditRunning {
			return true
		}
	}
	return false
}

func (s *audits) FailStale(_ context.Context, startedBefore, at time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.audits {
		if a.Status != models.AuditRunning || !a.StartedAt.Before(startedBefore) {
			continue
		}
		done := at
		a.Status = models.AuditFailed
		a.Error = reason
		a.Summary = models.AuditSummary{}
		a.CompletedAt = &done
		s.audits[id] = a
		for i := range s.phases[id] {
			if s.phases[id][i].Status == models.PhaseRunning {
				s.phases[id][i].Status = models.PhaseFailed
			}
		}
		n++
	}
	return n, nil
}

// ListByAccount returns the newest audit first.
func (s *audits) ListByAccount(_ context.Context, accountID string) ([]models.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Audit
	for _, a := range s.audits {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *audits) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[id]; !ok {
		return store.ErrNotFound
	}
	for _, f := range s.findings[id] {
		delete(s.findingAudit, f.ID)
	}
	delete(s.audits, id)
	delete(s.phases, id)
	delete(s.findings, id)
	return nil
}

// ── phases ───────────────────────────────────────────────────────────────────

type phases struct{ *db }

func (s *phases) Update(_ context.Context, p *models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.phases[p.AuditID]
	for i := range list {
		if list[i].Number == p.Number {
			u := *p
			u.Errors = append([]string(nil), p.Errors...)
			list[i] = u
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *phases) ListByAudit(_ context.Context, auditID string) ([]models.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Phase(nil), s.phases[auditID]...), nil
}

// ── findings ─────────────────────────────────────────────────────────────────

type findings struct{ *db }

func (s *findings) Append(_ context.Context, fs []models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range fs {
		if fs[i].ID == "" {
			fs[i].ID = uuid.NewString()
		}
		if fs[i].Status == "" {
			fs[i].Status = models.FindingOpen
		}
		s.findings[fs[i].AuditID] = append(s.findings[fs[i].AuditID], fs[i])
		s.findingAudit[fs[i].ID] = fs[i].AuditID
	}
	return nil
}

func (s *findings) ListByAudit(_ context.Context, auditID string) ([]models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Finding(nil), s.findings[auditID]...), nil
}

func (s *findings) UpdateStatus(_ context.Context, id string, status models.FindingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	auditID, ok := s.findingAudit[id]
	if !ok {
		return store.ErrNotFound
	}
	list := s.findings[auditID]
	for i := range list {
		if list[i].ID == id {
			list[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

// ── scan logs ────────────────────────────────────────────────────────────────

type scanLogs struct{ *db }

func (s *scanLogs) Append(_ context.Context, l *models.ScheduledScanLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.scanLogs = append(s.scanLogs, *l)
	return nil
}

func (s *scanLogs) ListByAccount(_ context.Context, accountID string) ([]models.ScheduledScanLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledScanLog
	for _, l := range s.scanLogs {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ── notifications ────────────────────────────────────────────────────────────

type notifications struct{ *db }

func (s *notifications) Get(_ context.Context, userID string) (*models.NotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.notifications[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (s *notifications) Put(_ context.Context, cfg *models.NotificationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	c.Channels = make(map[models.Channel]models.ChannelConfig, len(cfg.Channels))
	for k, v := range cfg.Channels {
		c.Channels[k] = v
	}
	s.notifications[cfg.UserID] = c
	return nil
}
