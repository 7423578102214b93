package policy

import (
	"strings"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// severityRank orders severities; higher is more severe.
var severityRank = map[models.Severity]int{
	models.SeverityCritical: 4,
	models.SeverityHigh:     3,
	models.SeverityMedium:   2,
	models.SeverityLow:      1,
}

// ShouldFail reports whether any finding is at or above the configured
// fail_on_severity. It returns false when cfg is nil, no threshold is set,
// or the threshold is unrecognised.
func ShouldFail(findings []models.Finding, cfg *Config) bool {
	if cfg == nil || cfg.Enforcement.FailOnSeverity == "" {
		return false
	}
	threshold, ok := severityRank[models.Severity(strings.ToUpper(cfg.Enforcement.FailOnSeverity))]
	if !ok {
		return false
	}
	for _, f := range findings {
		if severityRank[f.Severity] >= threshold {
			return true
		}
	}
	return false
}
