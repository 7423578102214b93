package models

import "time"

// Severity represents the impact level of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid reports whether s is one of the four recognised severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// FindingStatus is the triage state of a finding. It is the only Finding
// field that may change after the finding has been written.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingResolved      FindingStatus = "resolved"
	FindingIgnored       FindingStatus = "ignored"
	FindingFalsePositive FindingStatus = "false_positive"
)

// Valid reports whether s is a recognised finding status.
func (s FindingStatus) Valid() bool {
	switch s {
	case FindingOpen, FindingResolved, FindingIgnored, FindingFalsePositive:
		return true
	}
	return false
}

// Finding is a single detected security issue.
// It is the atomic output unit of a check.
type Finding struct {
	ID             string         `json:"id"`
	AuditID        string         `json:"audit_id"`
	PhaseNumber    int            `json:"phase_number"`
	FindingID      string         `json:"finding_id"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation"`
	ResourceID     string         `json:"resource_id"`
	ResourceType   string         `json:"resource_type"`
	Region         string         `json:"region"`
	Status         FindingStatus  `json:"status"`
	DetectedAt     time.Time      `json:"detected_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AuditSummary aggregates finding counts across all severities plus the
// derived risk score.
type AuditSummary struct {
	TotalFindings    int     `json:"total_findings"`
	CriticalFindings int     `json:"critical_findings"`
	HighFindings     int     `json:"high_findings"`
	MediumFindings   int     `json:"medium_findings"`
	LowFindings      int     `json:"low_findings"`
	RiskScore        float64 `json:"risk_score"`
}

// Add counts one finding of severity sev.
func (s *AuditSummary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.CriticalFindings++
	case SeverityHigh:
		s.HighFindings++
	case SeverityMedium:
		s.MediumFindings++
	case SeverityLow:
		s.LowFindings++
	default:
		return
	}
	s.TotalFindings++
}
