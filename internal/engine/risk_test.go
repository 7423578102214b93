package engine

import (
	"testing"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

func TestRiskScore_Examples(t *testing.T) {
	tests := []struct {
		s    models.AuditSummary
		want float64
	}{
		{models.AuditSummary{}, 100},
		{models.AuditSummary{CriticalFindings: 1}, 90},
		{models.AuditSummary{HighFindings: 2, MediumFindings: 1, LowFindings: 1}, 87.5},
		{models.AuditSummary{CriticalFindings: 11}, 0},
		{models.AuditSummary{LowFindings: 1000}, 0},
	}
	for _, tt := range tests {
		if got := RiskScore(tt.s); got != tt.want {
			t.Errorf("RiskScore(%+v) = %v; want %v", tt.s, got, tt.want)
		}
	}
}

func TestRiskScore_MonotonicAndBounded(t *testing.T) {
	bump := []func(*models.AuditSummary){
		func(s *models.AuditSummary) { s.CriticalFindings++ },
		func(s *models.AuditSummary) { s.HighFindings++ },
		func(s *models.AuditSummary) { s.MediumFindings++ },
		func(s *models.AuditSummary) { s.LowFindings++ },
	}
	for c := 0; c < 4; c++ {
		for h := 0; h < 6; h++ {
			for m := 0; m < 8; m++ {
				for l := 0; l < 10; l++ {
					base := models.AuditSummary{CriticalFindings: c * 3, HighFindings: h * 2, MediumFindings: m * 3, LowFindings: l * 5}
					score := RiskScore(base)
					if score < 0 || score > 100 {
						t.Fatalf("RiskScore(%+v) = %v out of [0,100]", base, score)
					}
					for i, b := range bump {
						next := base
						b(&next)
						if RiskScore(next) > score {
							t.Fatalf("severity %d increase raised score: %+v -> %+v", i, base, next)
						}
					}
				}
			}
		}
	}
}

func TestComputeSummary_TotalEqualsSum(t *testing.T) {
	fs := []models.Finding{
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityLow},
	}
	s := computeSummary(fs)
	if s.TotalFindings != 4 || s.HighFindings != 2 || s.CriticalFindings != 1 || s.LowFindings != 1 {
		t.Errorf("summary: %+v", s)
	}
	if s.RiskScore != 79.5 {
		t.Errorf("risk: got %v; want 79.5", s.RiskScore)
	}
}

func TestRunGuard(t *testing.T) {
	g := NewRunGuard()
	if !g.TryAcquire("a") {
		t.Fatal("first acquire failed")
	}
	if g.TryAcquire("a") {
		t.Fatal("second acquire of same account succeeded")
	}
	if !g.TryAcquire("b") {
		t.Fatal("different account blocked")
	}
	g.Release("a")
	if !g.TryAcquire("a") {
		t.Fatal("release did not free account")
	}
}
