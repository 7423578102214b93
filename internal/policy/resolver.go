package policy

import (
	"strings"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Apply drops findings of disabled checks and rewrites overridden
// severities. The input slice is not modified.
func Apply(findings []models.Finding, cfg *Config) []models.Finding {
	if cfg == nil || len(cfg.Checks) == 0 {
		return findings
	}

	result := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		rc, ok := cfg.Checks[f.FindingID]
		if ok && rc.Enabled != nil && !*rc.Enabled {
			continue
		}
		if ok && rc.Severity != "" {
			f.Severity = models.Severity(strings.ToUpper(rc.Severity))
		}
		result = append(result, f)
	}
	return result
}
