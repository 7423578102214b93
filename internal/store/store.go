// Package store defines the persistence boundary of the audit engine.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuditInProgress is returned by Audits.Create when the account
	// already has an audit in status running.
	ErrAuditInProgress = errors.New("audit already in progress for account")
)

// Accounts persists audited cloud accounts and their schedules.
type Accounts interface {
	Create(ctx context.Context, a *models.Account) error
	Get(ctx context.Context, provider models.Provider, id string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)

	// ListDue returns every account, across all providers, whose schedule is
	// enabled and whose next scheduled scan is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]models.Account, error)

	// UpdateSchedule replaces the schedule. A nil cfg disables scheduling
	// and clears the next scheduled scan.
	UpdateSchedule(ctx context.Context, provider models.Provider, id string, cfg *models.ScheduleConfig, next *time.Time) error

	SetNextScheduledScan(ctx context.Context, provider models.Provider, id string, next time.Time) error
	MarkScanned(ctx context.Context, provider models.Provider, id string, at time.Time) error
}

// Audits persists audit runs. Create writes the audit and all of its phases
// in one atomic step.
type Audits interface {
	Create(ctx context.Context, a *models.Audit, phases []models.Phase) error
	Get(ctx context.Context, id string) (*models.Audit, error)

	// Update writes status, summary, error and completion time.
	Update(ctx context.Context, a *models.Audit) error

	HasRunning(ctx context.Context, accountID string) (bool, error)

	// FailStale marks every running audit started before startedBefore as
	// failed with reason, completing it at at. Phases still running in those
	// audits are failed too. It returns the number of audits changed.
	FailStale(ctx context.Context, startedBefore, at time.Time, reason string) (int, error)

	ListByAccount(ctx context.Context, accountID string) ([]models.Audit, error)

	// Delete removes the audit with its phases and findings.
	Delete(ctx context.Context, id string) error
}

// Phases persists per-phase progress.
type Phases interface {
	Update(ctx context.Context, p *models.Phase) error

	// ListByAudit returns the phases ordered by phase number.
	ListByAudit(ctx context.Context, auditID string) ([]models.Phase, error)
}

// Findings persists findings. Only the status of a finding may change after
// it is written.
type Findings interface {
	Append(ctx context.Context, fs []models.Finding) error
	ListByAudit(ctx context.Context, auditID string) ([]models.Finding, error)
	UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error
}

// ScanLogs is the append-only scheduler trail.
type ScanLogs interface {
	Append(ctx context.Context, l *models.ScheduledScanLog) error
	ListByAccount(ctx context.Context, accountID string) ([]models.ScheduledScanLog, error)
}

// Notifications holds per-user alerting configuration.
type Notifications interface {
	Get(ctx context.Context, userID string) (*models.NotificationConfig, error)
	Put(ctx context.Context, cfg *models.NotificationConfig) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Accounts      Accounts
	Audits        Audits
	Phases        Phases
	Findings      Findings
	ScanLogs      ScanLogs
	Notifications Notifications

	// Close releases backend resources. It may be nil.
	Close func() error
}
