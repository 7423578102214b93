package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/archive"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/config"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/logging"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/output"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/policy"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/rulepacks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/scheduler"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/server"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/version"
)

// errPolicyViolation is returned by scan when the policy's enforcement
// threshold is met, so the process exits non-zero.
var errPolicyViolation = errors.New("policy enforcement threshold reached")

// globalFlags are shared by every command that loads configuration.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "cloudaudit",
		Short:         "Multi-cloud security audit and scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to cloudaudit.yaml (default: defaults and CLOUDAUDIT_* environment)")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newScanCmd(g))
	root.AddCommand(newAccountsCmd(g))
	root.AddCommand(newNextRunCmd())
	root.AddCommand(newDoctorCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// setup loads configuration and returns a context carrying the root logger.
func setup(cmd *cobra.Command, g *globalFlags) (*config.Config, context.Context, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.WithContext(cmd.Context()), nil
}

// ── serve ────────────────────────────────────────────────────────────────────

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := setup(cmd, g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, defaultCredentials(), rulepacks.Default())
			if err != nil {
				return err
			}
			defer a.close()
			return serve(ctx, a)
		},
	}
}

// serve blocks until ctx is cancelled, then stops the scheduler and waits
// for in-flight audits.
// recoverAudits fails audits a previous process left running, so their
// accounts can be scanned again.
func recoverAudits(ctx context.Context, a *app) error {
	if !a.cfg.Audit.RecoverOnStart {
		return nil
	}
	_, err := a.orch.RecoverInterrupted(ctx)
	return err
}

func serve(ctx context.Context, a *app) error {
	log := zerolog.Ctx(ctx)
	if err := recoverAudits(ctx, a); err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	deps := server.Dependencies{
		Trigger: a.orch,
		Store:   a.store,
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	if a.cfg.Scheduler.Enabled {
		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}
		sched = scheduler.New(a.store, a.orch, scheduler.Config{
			Interval: a.cfg.Scheduler.Interval,
			Location: loc,
		}, a.metrics)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		deps.Scheduler = sched
	}

	api := server.NewWebAPI(*log, server.Config{
		Addr:            a.cfg.HTTP.Addr,
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		Dependencies:    deps,
	})
	serveErr := api.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Audit.PhaseTimeout+a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("scheduler stop")
		}
	} else if err := a.orch.Drain(stopCtx); err != nil {
		log.Error().Err(err).Msg("drain audits")
	}
	log.Info().Msg("shutdown complete")
	return serveErr
}

// ── scan ─────────────────────────────────────────────────────────────────────

type scanOptions struct {
	provider   models.Provider
	accountID  string
	secretFile string
	format     string
	output     string
	colored    bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <provider> <account-id>",
		Short: "Run one audit synchronously and print the result",
		Long: `Run one audit synchronously and print the result.

With --secret-file the account is registered first using the given
credential JSON, which allows one-off scans against the memory store.
The command exits non-zero when the audit fails or when the policy's
enforcement.fail_on_severity threshold is reached.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			opts.provider, opts.accountID = p, args[1]

			cfg, ctx, err := setup(cmd, g)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, defaultCredentials(), rulepacks.Default())
			if err != nil {
				return err
			}
			defer a.close()
			return runScan(ctx, a, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.secretFile, "secret-file", "", "Register the account from this credential JSON before scanning")
	cmd.Flags().StringVar(&opts.format, "format", "table", "Output format: table or json")
	cmd.Flags().StringVar(&opts.output, "output", "", "Write the full JSON report to this file path (in addition to stdout output)")
	cmd.Flags().BoolVar(&opts.colored, "color", false, "Colour severities in table output")
	return cmd
}

func runScan(ctx context.Context, a *app, opts scanOptions, w io.Writer) error {
	if opts.secretFile != "" {
		if err := registerAccount(ctx, a, accountInput{
			provider:   opts.provider,
			id:         opts.accountID,
			secretFile: opts.secretFile,
		}); err != nil {
			return err
		}
	}

	audit, err := a.orch.RunAudit(ctx, opts.provider, opts.accountID, models.TriggerManual)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}
	report, err := loadReport(ctx, a, audit)
	if err != nil {
		return err
	}
	output.SortFindings(report.Findings)

	if opts.output != "" {
		if err := writeReportToFile(opts.output, report); err != nil {
			return err
		}
	}
	if opts.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		output.RenderAudit(w, report.Audit, report.Phases)
		fmt.Fprintln(w)
		output.RenderFindings(w, report.Findings, output.TableOptions{
			Colored:       opts.colored,
			IncludePhase:  true,
			IncludeStatus: true,
		})
	}

	if audit.Status == models.AuditFailed {
		return fmt.Errorf("audit %s failed: %s", audit.ID, audit.Error)
	}
	if policy.ShouldFail(report.Findings, a.policy) {
		return errPolicyViolation
	}
	return nil
}

func loadReport(ctx context.Context, a *app, audit *models.Audit) (*archive.Report, error) {
	acct, err := a.store.Accounts.Get(ctx, audit.Provider, audit.AccountID)
	if err != nil {
		return nil, err
	}
	phases, err := a.store.Phases.ListByAudit(ctx, audit.ID)
	if err != nil {
		return nil, err
	}
	findings, err := a.store.Findings.ListByAudit(ctx, audit.ID)
	if err != nil {
		return nil, err
	}
	return &archive.Report{
		GeneratedAt: time.Now().UTC(),
		Account:     archive.ReportAccount{ID: acct.ID, Provider: acct.Provider, Name: acct.Name},
		Audit:       *audit,
		Phases:      phases,
		Findings:    findings,
	}, nil
}

// writeReportToFile serialises report as indented JSON and writes it to path,
// creating or overwriting the file. It does not affect stdout output.
func writeReportToFile(path string, report *archive.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report file %q: %w", path, err)
	}
	return nil
}

// ── accounts ─────────────────────────────────────────────────────────────────

type accountInput struct {
	provider   models.Provider
	id         string
	name       string
	owner      string
	secretFile string
	validate   bool
}

func newAccountsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage audited accounts",
	}

	var in accountInput
	add := &cobra.Command{
		Use:   "add <provider> <account-id>",
		Short: "Register an account with sealed credentials",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			in.provider, in.id = p, args[1]
			cfg, ctx, err := setup(cmd, g)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, defaultCredentials(), rulepacks.Default())
			if err != nil {
				return err
			}
			defer a.close()
			if err := registerAccount(ctx, a, in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s/%s registered.\n", in.provider, in.id)
			return nil
		},
	}
	add.Flags().StringVar(&in.secretFile, "secret-file", "", "Credential JSON for the account (required)")
	add.Flags().StringVar(&in.name, "name", "", "Display name")
	add.Flags().StringVar(&in.owner, "owner", "", "Owner user ID; alerts use this user's notification settings")
	add.Flags().BoolVar(&in.validate, "validate", true, "Validate the credentials with the provider before storing them")
	_ = add.MarkFlagRequired("secret-file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := setup(cmd, g)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, defaultCredentials(), rulepacks.Default())
			if err != nil {
				return err
			}
			defer a.close()
			accts, err := a.store.Accounts.List(ctx)
			if err != nil {
				return err
			}
			printAccounts(cmd.OutOrStdout(), accts)
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func registerAccount(ctx context.Context, a *app, in accountInput) error {
	raw, err := os.ReadFile(in.secretFile)
	if err != nil {
		return fmt.Errorf("read secret file: %w", err)
	}
	if in.validate {
		p, err := a.creds.Get(in.provider)
		if err != nil {
			return err
		}
		if err := credentials.ValidateWithRetry(ctx, p, credentials.Secret(raw)); err != nil {
			return err
		}
	}
	sealed, err := a.sealer.Seal(raw)
	if err != nil {
		return err
	}
	return a.store.Accounts.Create(ctx, &models.Account{
		ID:              in.id,
		Provider:        in.provider,
		Name:            in.name,
		OwnerID:         in.owner,
		EncryptedSecret: sealed,
		CreatedAt:       time.Now().UTC(),
	})
}

func printAccounts(w io.Writer, accts []models.Account) {
	if len(accts) == 0 {
		fmt.Fprintln(w, "No accounts.")
		return
	}
	fmt.Fprintf(w, "%-8s  %-36s  %-20s  %-10s  %s\n", "PROVIDER", "ACCOUNT", "NAME", "SCHEDULE", "NEXT SCAN")
	for _, acct := range accts {
		sched, next := "-", "-"
		if acct.Schedule != nil {
			sched = string(acct.Schedule.Frequency)
		}
		if acct.NextScheduledScan != nil {
			next = acct.NextScheduledScan.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-8s  %-36s  %-20s  %-10s  %s\n", acct.Provider, acct.ID, output.ShortenMessage(acct.Name, 20), sched, next)
	}
}

// ── next-run ─────────────────────────────────────────────────────────────────

func newNextRunCmd() *cobra.Command {
	var (
		frequency  string
		hour       int
		dayOfWeek  int
		dayOfMonth int
		from       string
		timezone   string
		count      int
	)
	cmd := &cobra.Command{
		Use:   "next-run",
		Short: "Print the next scheduled run times for a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return err
			}
			now := time.Now().In(loc)
			if from != "" {
				if now, err = time.ParseInLocation(time.RFC3339, from, loc); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				now = now.In(loc)
			}

			cfg := models.ScheduleConfig{Frequency: models.Frequency(frequency), Hour: hour}
			if cmd.Flags().Changed("day-of-week") {
				cfg.DayOfWeek = &dayOfWeek
			}
			if cmd.Flags().Changed("day-of-month") {
				cfg.DayOfMonth = &dayOfMonth
			}
			return printNextRuns(cmd.OutOrStdout(), cfg, now, count)
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "daily, weekly or monthly")
	cmd.Flags().IntVar(&hour, "hour", 0, "Hour of day (0-23)")
	cmd.Flags().IntVar(&dayOfWeek, "day-of-week", 0, "Day of week for weekly schedules (0=Sunday)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 1, "Day of month for monthly schedules (1-31, clamped to month length)")
	cmd.Flags().StringVar(&from, "from", "", "Reference time in RFC3339 (default: now)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA time zone the schedule is evaluated in")
	cmd.Flags().IntVar(&count, "count", 1, "Number of upcoming runs to print")
	return cmd
}

func printNextRuns(w io.Writer, cfg models.ScheduleConfig, now time.Time, count int) error {
	for i := 0; i < max(count, 1); i++ {
		next, err := scheduler.NextRun(cfg, now)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, next.Format(time.RFC3339))
		now = next
	}
	return nil
}
