// Package engine owns the lifecycle of an audit run: it guards per-account
// exclusivity, authenticates once, drives the phase catalogue in order,
// persists progress as it goes and finalises the audit exactly once.
package engine

import (
	"context"
	"math"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

// ErrAuditInProgress is reported when the account already has a running
// audit. It is the same value the store returns, so callers can match either.
var ErrAuditInProgress = store.ErrAuditInProgress

// Trigger is the single entry point for manual and scheduled runs.
// The scheduler and the HTTP server depend on this interface only.
type Trigger interface {
	TriggerScan(ctx context.Context, provider models.Provider, accountID string, source models.TriggerSource) TriggerResult
}

// TriggerResult is the outcome of a trigger request. Err carries the
// underlying error for callers that classify it; Error is its message.
type TriggerResult struct {
	Success bool   `json:"success"`
	AuditID string `json:"audit_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func failed(err error) TriggerResult {
	return TriggerResult{Error: err.Error(), Err: err}
}

// SecretOpener decrypts stored credential material.
type SecretOpener interface {
	Open(sealed []byte) (credentials.Secret, error)
}

// Risk weights per severity. Each finding deducts its weight from 100.
const (
	criticalWeight = 10
	highWeight     = 5
	mediumWeight   = 2
	lowWeight      = 0.5
)

// RiskScore is a weighted deduction from 100, clamped to [0,100]. It never
// increases when any severity count grows.
func RiskScore(s models.AuditSummary) float64 {
	score := 100 -
		criticalWeight*float64(s.CriticalFindings) -
		highWeight*float64(s.HighFindings) -
		mediumWeight*float64(s.MediumFindings) -
		lowWeight*float64(s.LowFindings)
	return math.Max(0, math.Min(100, score))
}

// computeSummary counts findings by severity and derives the risk score.
func computeSummary(findings []models.Finding) models.AuditSummary {
	var s models.AuditSummary
	for _, f := range findings {
		s.Add(f.Severity)
	}
	s.RiskScore = RiskScore(s)
	return s
}
