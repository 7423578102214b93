// Package config loads the cloudaudit runtime configuration from a YAML
// file, CLOUDAUDIT_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// EnvPrefix is prepended to every environment override, so
// database.dsn is read from CLOUDAUDIT_DATABASE_DSN.
const EnvPrefix = "CLOUDAUDIT"

// Config is the top-level application configuration.
// It must never be committed with real secrets; the sealing key, SMTP
// password and archive keys belong in the environment.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	HTTP      HTTPConfig      `mapstructure:"http"`

	// PolicyFile is an optional path to a policy YAML document.
	PolicyFile string `mapstructure:"policy_file"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "json" (default) or "console".
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`

	// DSN is the postgres connection string. Required for the postgres driver.
	DSN string `mapstructure:"dsn"`

	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SchedulerConfig tunes the recurring-scan loop.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`

	// Timezone is an IANA zone name schedules are evaluated in.
	Timezone string `mapstructure:"timezone"`
}

// AuditConfig bounds check execution.
type AuditConfig struct {
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`

	// MaxAge fails running audits older than this before a new audit starts.
	MaxAge time.Duration `mapstructure:"max_age"`

	// RecoverOnStart fails every running audit when serve starts. Disable it
	// when several processes share one database.
	RecoverOnStart bool `mapstructure:"recover_on_start"`

	// Concurrency caps concurrent checks per phase, keyed by provider name.
	Concurrency map[string]int `mapstructure:"concurrency"`
}

// SecretsConfig holds the key used to seal stored cloud credentials.
type SecretsConfig struct {
	// Key is a base64-encoded 32-byte key.
	Key string `mapstructure:"key"`
}

// SMTPConfig configures the email alert channel. An empty Host disables it.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ArchiveConfig configures report upload to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// HTTPConfig configures the trigger API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Loader is the interface for reading Config.
type Loader interface {
	// Load reads, parses, and validates the configuration.
	Load() (*Config, error)

	// ConfigPath returns the configuration file path, or "" when only
	// defaults and the environment are used.
	ConfigPath() string
}

// FileLoader loads Config with viper. Path may be empty.
type FileLoader struct {
	Path string

	// EnvFile is loaded into the process environment first when present.
	// Defaults to ".env".
	EnvFile string
}

// ConfigPath implements Loader.
func (l FileLoader) ConfigPath() string { return l.Path }

// Load implements Loader.
func (l FileLoader) Load() (*Config, error) {
	envFile := l.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.Path != "" {
		v.SetConfigFile(l.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is shorthand for FileLoader{Path: path}.Load().
func Load(path string) (*Config, error) {
	return FileLoader{Path: path}.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("audit.check_timeout", 2*time.Minute)
	v.SetDefault("audit.phase_timeout", 15*time.Minute)
	v.SetDefault("audit.max_age", 12*time.Hour)
	v.SetDefault("audit.recover_on_start", true)
	v.SetDefault("audit.concurrency", map[string]int{
		string(models.ProviderAWS):   10,
		string(models.ProviderGCP):   10,
		string(models.ProviderAzure): 10,
	})

	v.SetDefault("secrets.key", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "audits")
	v.SetDefault("archive.use_ssl", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("policy_file", "")
}

// Validate reports every invalid setting, not just the first.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn: required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval: must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}

	if c.Audit.CheckTimeout <= 0 {
		errs = append(errs, errors.New("audit.check_timeout: must be positive"))
	}
	if c.Audit.PhaseTimeout < 0 {
		errs = append(errs, errors.New("audit.phase_timeout: must not be negative"))
	}
	if c.Audit.MaxAge < 0 {
		errs = append(errs, errors.New("audit.max_age: must not be negative"))
	}
	for name, n := range c.Audit.Concurrency {
		if _, err := models.ParseProvider(name); err != nil {
			errs = append(errs, fmt.Errorf("audit.concurrency: %w", err))
		} else if n < 1 {
			errs = append(errs, fmt.Errorf("audit.concurrency.%s: must be at least 1", name))
		}
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.from: required when smtp.host is set"))
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive: endpoint and bucket are required when enabled"))
	}

	return errors.Join(errs...)
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}

// ProviderConcurrency converts Audit.Concurrency to provider keys,
// ignoring unknown names.
func (c *Config) ProviderConcurrency() map[models.Provider]int {
	out := make(map[models.Provider]int, len(c.Audit.Concurrency))
	for name, n := range c.Audit.Concurrency {
		if p, err := models.ParseProvider(name); err == nil {
			out[p] = n
		}
	}
	return out
}
