package policy

import (
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Validate checks cfg for semantic correctness and returns every error
// found. An empty slice means the config is valid.
//
// Checks performed:
//   - version must be 1
//   - phase numbers must exist in the catalogue
//   - check IDs must appear in knownCheckIDs
//   - severity overrides and fail_on_severity must be valid severities
func Validate(cfg *Config, knownCheckIDs []string) []error {
	if cfg == nil {
		return []error{fmt.Errorf("policy config is nil")}
	}

	known := make(map[string]struct{}, len(knownCheckIDs))
	for _, id := range knownCheckIDs {
		known[id] = struct{}{}
	}

	var errs []error

	if cfg.Version != 1 {
		errs = append(errs, fmt.Errorf("version: unsupported value %d; must be 1", cfg.Version))
	}

	for n := range cfg.Phases {
		if checks.PhaseName(n) == "" {
			errs = append(errs, fmt.Errorf("phases.%d: not a catalogue phase", n))
		}
	}

	for id, rc := range cfg.Checks {
		if _, ok := known[id]; !ok {
			errs = append(errs, fmt.Errorf("checks.%s: unknown check ID", id))
		}
		if rc.Severity != "" && !models.Severity(strings.ToUpper(rc.Severity)).Valid() {
			errs = append(errs, fmt.Errorf("checks.%s.severity: invalid value %q; valid values: CRITICAL, HIGH, MEDIUM, LOW", id, rc.Severity))
		}
	}

	if s := cfg.Enforcement.FailOnSeverity; s != "" && !models.Severity(strings.ToUpper(s)).Valid() {
		errs = append(errs, fmt.Errorf("enforcement.fail_on_severity: invalid value %q; valid values: CRITICAL, HIGH, MEDIUM, LOW", s))
	}

	return errs
}
