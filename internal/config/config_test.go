package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

// ── defaults ─────────────────────────────────────────────────────────────────

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := FileLoader{EnvFile: noEnvFile(t)}.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver: got %q; want %q", cfg.Database.Driver, "memory")
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Errorf("interval: got %v; want 1m", cfg.Scheduler.Interval)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("scheduler should be enabled by default")
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Audit.MaxAge != 12*time.Hour || !cfg.Audit.RecoverOnStart {
		t.Errorf("audit: got max_age %v recover_on_start %v; want 12h, true", cfg.Audit.MaxAge, cfg.Audit.RecoverOnStart)
	}
	if got := cfg.ProviderConcurrency()[models.ProviderAWS]; got != 10 {
		t.Errorf("aws concurrency: got %d; want 10", got)
	}
}

// ── file and env ─────────────────────────────────────────────────────────────

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cloudaudit.yaml", `
log:
  level: debug
  format: console
database:
  driver: postgres
  dsn: postgres://localhost/cloudaudit
scheduler:
  interval: 30s
  timezone: Europe/Berlin
audit:
  check_timeout: 45s
  concurrency:
    aws: 4
    gcp: 2
policy_file: policy.yaml
`)
	cfg, err := FileLoader{Path: path, EnvFile: noEnvFile(t)}.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Format != "console" || cfg.Log.Level != "debug" {
		t.Errorf("log: got %+v", cfg.Log)
	}
	if cfg.Database.DSN != "postgres://localhost/cloudaudit" {
		t.Errorf("dsn: got %q", cfg.Database.DSN)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("interval: got %v", cfg.Scheduler.Interval)
	}
	if cfg.Audit.CheckTimeout != 45*time.Second {
		t.Errorf("check timeout: got %v", cfg.Audit.CheckTimeout)
	}
	conc := cfg.ProviderConcurrency()
	if conc[models.ProviderAWS] != 4 || conc[models.ProviderGCP] != 2 {
		t.Errorf("concurrency: got %v", conc)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("location: got %v, %v", loc, err)
	}
	if cfg.PolicyFile != "policy.yaml" {
		t.Errorf("policy file: got %q", cfg.PolicyFile)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "cloudaudit.yaml", "http:\n  addr: \":9000\"\n")
	t.Setenv("CLOUDAUDIT_HTTP_ADDR", ":7000")
	t.Setenv("CLOUDAUDIT_SECRETS_KEY", "c2VjcmV0")

	cfg, err := FileLoader{Path: path, EnvFile: noEnvFile(t)}.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Errorf("addr: got %q; want %q", cfg.HTTP.Addr, ":7000")
	}
	if cfg.Secrets.Key != "c2VjcmV0" {
		t.Errorf("secrets key: got %q", cfg.Secrets.Key)
	}
}

func TestLoad_DotEnvFileIsApplied(t *testing.T) {
	envFile := writeFile(t, ".env", "CLOUDAUDIT_SMTP_HOST=smtp.example.com\nCLOUDAUDIT_SMTP_FROM=audit@example.com\n")
	t.Cleanup(func() {
		os.Unsetenv("CLOUDAUDIT_SMTP_HOST")
		os.Unsetenv("CLOUDAUDIT_SMTP_FROM")
	})

	cfg, err := FileLoader{EnvFile: envFile}.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.From != "audit@example.com" {
		t.Errorf("smtp: got %+v", cfg.SMTP)
	}
}

func TestLoad_MissingConfigFileIsError(t *testing.T) {
	_, err := FileLoader{Path: filepath.Join(t.TempDir(), "nope.yaml"), EnvFile: noEnvFile(t)}.Load()
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func validConfig() Config {
	return Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		Database:  DatabaseConfig{Driver: "memory"},
		Scheduler: SchedulerConfig{Interval: time.Minute, Timezone: "UTC"},
		Audit:     AuditConfig{CheckTimeout: time.Minute, Concurrency: map[string]int{"aws": 1}},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "xml"
	cfg.Database.Driver = "postgres"
	cfg.Scheduler.Interval = 0
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Audit.Concurrency = map[string]int{"oracle": 2, "aws": 0}
	cfg.SMTP.Host = "smtp.example.com"
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"log.format", "database.dsn", "scheduler.interval", "scheduler.timezone",
		`unknown provider "oracle"`, "audit.concurrency.aws", "smtp.from", "archive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
