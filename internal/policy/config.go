// Package policy lets operators tune an audit without code changes: phases
// and individual checks can be disabled, check severities overridden, and a
// failure threshold set for CI-style runs.
package policy

// Config is the parsed policy file.
type Config struct {
	Version     int                    `yaml:"version"`
	Phases      map[int]PhaseConfig    `yaml:"phases"`
	Checks      map[string]CheckConfig `yaml:"checks"`
	Enforcement EnforcementConfig      `yaml:"enforcement"`
}

// PhaseConfig toggles one catalogue phase. Phases absent from the file run.
type PhaseConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// CheckConfig toggles one check and optionally overrides its severity.
type CheckConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Severity string `yaml:"severity,omitempty"`
}

// EnforcementConfig sets the severity at or above which a run is reported
// as failing by the scan command.
type EnforcementConfig struct {
	FailOnSeverity string `yaml:"fail_on_severity,omitempty"`
}

// PhaseEnabled reports whether phase number should run. A nil config
// enables everything.
func (c *Config) PhaseEnabled(number int) bool {
	if c == nil {
		return true
	}
	p, ok := c.Phases[number]
	return !ok || p.Enabled == nil || *p.Enabled
}

// CheckEnabled reports whether the check with id should run.
func (c *Config) CheckEnabled(id string) bool {
	if c == nil {
		return true
	}
	r, ok := c.Checks[id]
	return !ok || r.Enabled == nil || *r.Enabled
}
