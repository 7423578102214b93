package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedVersion is returned for policy files whose version is not 1.
var ErrUnsupportedVersion = errors.New("unsupported policy version")

// Load reads and parses the YAML policy file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cfg.Version)
	}
	if cfg.Phases == nil {
		cfg.Phases = make(map[int]PhaseConfig)
	}
	if cfg.Checks == nil {
		cfg.Checks = make(map[string]CheckConfig)
	}
	return &cfg, nil
}
