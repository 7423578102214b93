package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/alert"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/archive"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/config"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/metrics"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/policy"
	awscommon "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/aws/common"
	azurecommon "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/azure/common"
	gcpcommon "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/gcp/common"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store/memory"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store/postgres"
)

// app is the wired process: one store, one orchestrator, one metrics
// registry. Every command that touches accounts builds one.
type app struct {
	cfg      *config.Config
	store    *store.Store
	sealer   *credentials.Sealer
	creds    *credentials.Registry
	checks   *checks.Registry
	policy   *policy.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	orch     *engine.Orchestrator
}

func defaultCredentials() *credentials.Registry {
	return credentials.NewRegistry(
		awscommon.NewDefaultAWSClientProvider(),
		gcpcommon.NewProvider(),
		azurecommon.NewProvider(),
	)
}

// buildApp wires every component from cfg. creds and reg are parameters so
// tests can substitute fakes for the cloud providers.
func buildApp(ctx context.Context, cfg *config.Config, creds *credentials.Registry, reg *checks.Registry) (*app, error) {
	log := zerolog.Ctx(ctx)

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, creds: creds, checks: reg}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	key := cfg.Secrets.Key
	if key == "" {
		if cfg.Database.Driver != "memory" {
			return fail(errors.New("secrets.key is required with a persistent database"))
		}
		key = ephemeralKey()
		log.Warn().Msg("no secrets.key configured; using an ephemeral sealing key")
	}
	if a.sealer, err = credentials.NewSealer(key); err != nil {
		return fail(fmt.Errorf("secrets.key: %w", err))
	}

	if cfg.PolicyFile != "" {
		p, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			return fail(err)
		}
		if errs := policy.Validate(p, reg.IDs()); len(errs) > 0 {
			return fail(fmt.Errorf("policy %s: %w", cfg.PolicyFile, errors.Join(errs...)))
		}
		a.policy = p
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	var archiver engine.ReportArchiver
	if cfg.Archive.Enabled {
		arc, err := archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return fail(err)
		}
		archiver = arc
	}

	a.orch = engine.New(engine.Deps{
		Store:       st,
		Credentials: creds,
		Checks:      reg,
		Secrets:     a.sealer,
		Alerts:      alert.NewDispatcher(senders(cfg.SMTP), a.metrics),
		Archiver:    archiver,
		Metrics:     a.metrics,
	}, engine.Options{
		Concurrency:  cfg.ProviderConcurrency(),
		CheckTimeout: cfg.Audit.CheckTimeout,
		PhaseTimeout: cfg.Audit.PhaseTimeout,
		MaxAuditAge:  cfg.Audit.MaxAge,
		Policy:       a.policy,
	})
	return a, nil
}

func (a *app) close() {
	if a.store != nil && a.store.Close != nil {
		a.store.Close()
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN, postgres.Options{
			MaxOpenConns:   cfg.MaxOpenConns,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return postgres.New(db), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func senders(smtp config.SMTPConfig) map[models.Channel]alert.Sender {
	s := map[models.Channel]alert.Sender{
		models.ChannelSlack:     alert.NewSlackSender(),
		models.ChannelPagerDuty: alert.NewPagerDutySender(),
	}
	if smtp.Host != "" {
		s[models.ChannelEmail] = alert.NewEmailSender(alert.SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
		})
	}
	return s
}

func ephemeralKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// parseProvider accepts provider names case-insensitively.
func parseProvider(s string) (models.Provider, error) {
	return models.ParseProvider(strings.ToLower(s))
}
