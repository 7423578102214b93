package models

import "time"

// AuditStatus is the lifecycle state of an audit run.
type AuditStatus string

const (
	AuditPending   AuditStatus = "pending"
	AuditRunning   AuditStatus = "running"
	AuditCompleted AuditStatus = "completed"
	AuditFailed    AuditStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s AuditStatus) Terminal() bool {
	return s == AuditCompleted || s == AuditFailed
}

// PhaseStatus is the lifecycle state of a single phase within an audit.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// TriggerSource records who started an audit.
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
)

// Audit is one orchestrated run over the phase catalogue for one account.
// Summary is populated only once Status reaches completed; CompletedAt is set
// once, at the transition to completed or failed.
type Audit struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"account_id"`
	Provider    Provider      `json:"provider"`
	Status      AuditStatus   `json:"status"`
	Trigger     TriggerSource `json:"trigger"`
	Summary     AuditSummary  `json:"summary"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Phase is one catalogue phase inside an audit. Phases are created up front
// in catalogue order when the audit starts.
type Phase struct {
	AuditID     string       `json:"audit_id"`
	Number      int          `json:"number"`
	Name        string       `json:"name"`
	Status      PhaseStatus  `json:"status"`
	Summary     AuditSummary `json:"summary"`
	Errors      []string     `json:"errors,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// ScanOutcome is the result of one scheduler-triggered attempt.
type ScanOutcome string

const (
	OutcomeTriggered      ScanOutcome = "triggered"
	OutcomeSkippedRunning ScanOutcome = "skipped_running"
	OutcomeFailed         ScanOutcome = "failed"
)

// ScheduledScanLog is an append-only record of one scheduler attempt.
type ScheduledScanLog struct {
	ID        string      `json:"id"`
	AccountID string      `json:"account_id"`
	Provider  Provider    `json:"provider"`
	AuditID   string      `json:"audit_id,omitempty"`
	Outcome   ScanOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
