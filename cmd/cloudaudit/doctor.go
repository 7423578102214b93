package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/policy"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/rulepacks"
)

// DoctorResult is the structured output of cloudaudit doctor. It can be
// serialised to JSON via --format=json or rendered as a human-readable
// table (default).
type DoctorResult struct {
	Database struct {
		Driver string `json:"driver"`
		OK     bool   `json:"ok"`
	} `json:"database"`

	Policy struct {
		Path    string   `json:"path,omitempty"`
		Present bool     `json:"present"`
		Valid   bool     `json:"valid"`
		Errors  []string `json:"errors,omitempty"`
	} `json:"policy"`

	Accounts []AccountDiagnosis `json:"accounts"`

	AccountsError string `json:"accounts_error,omitempty"`

	OverallHealthy bool `json:"overall_healthy"`
}

// AccountDiagnosis is the credential check of one stored account.
type AccountDiagnosis struct {
	Provider    models.Provider `json:"provider"`
	ID          string          `json:"id"`
	Credentials bool            `json:"credentials_ok"`
	Error       string          `json:"error,omitempty"`
}

func newDoctorCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration, policy and stored account credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			providerFlag, _ := cmd.Flags().GetString("provider")

			cfg, ctx, err := setup(cmd, g)
			if err != nil {
				return err
			}
			var only models.Provider
			if providerFlag != "" {
				if only, err = parseProvider(providerFlag); err != nil {
					return err
				}
			}

			// The policy is diagnosed below instead of failing app setup.
			policyPath := cfg.PolicyFile
			cfg.PolicyFile = ""
			a, err := buildApp(ctx, cfg, defaultCredentials(), rulepacks.Default())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := runDoctor(ctx, a, policyPath, only, cmd.OutOrStdout(), format)
			if err != nil {
				// Rendering failure; let Cobra/main handle it.
				return err
			}
			if !result.OverallHealthy {
				// Exit directly so no error text reaches main.go's
				// fmt.Fprintln(os.Stderr, err) path.
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "table", `Output format: "table" or "json"`)
	cmd.Flags().String("provider", "", "Only check accounts of this provider")
	return cmd
}

// runDoctor collects all diagnostic results, renders them to w in the
// requested format, and returns the result.
// The returned error covers only rendering failures; callers inspect
// result.OverallHealthy for the verdict.
func runDoctor(ctx context.Context, a *app, policyPath string, only models.Provider, w io.Writer, format string) (DoctorResult, error) {
	result := collectDoctorResult(ctx, a, policyPath, only)

	switch format {
	case "json":
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	default:
		renderDoctorTable(result, w)
	}
	return result, nil
}

// collectDoctorResult runs all checks and populates a DoctorResult.
// It performs no rendering.
func collectDoctorResult(ctx context.Context, a *app, policyPath string, only models.Provider) DoctorResult {
	var result DoctorResult
	result.Database.Driver = a.cfg.Database.Driver

	// Policy: stat → load → validate (file is optional).
	if policyPath != "" {
		result.Policy.Path = policyPath
		if _, statErr := os.Stat(policyPath); statErr == nil {
			result.Policy.Present = true
			cfg, loadErr := policy.Load(policyPath)
			if loadErr != nil {
				result.Policy.Errors = []string{loadErr.Error()}
			} else if errs := policy.Validate(cfg, a.checks.IDs()); len(errs) == 0 {
				result.Policy.Valid = true
			} else {
				for _, e := range errs {
					result.Policy.Errors = append(result.Policy.Errors, e.Error())
				}
			}
		} else {
			// A configured policy file that cannot be read is an error.
			result.Policy.Present = true
			result.Policy.Errors = []string{statErr.Error()}
		}
	}

	// Accounts: list → unseal → validate with one retry on transient errors.
	accts, err := a.store.Accounts.List(ctx)
	if err != nil {
		result.AccountsError = err.Error()
	} else {
		result.Database.OK = true
		for _, acct := range accts {
			if only != "" && acct.Provider != only {
				continue
			}
			result.Accounts = append(result.Accounts, diagnoseAccount(ctx, a, acct))
		}
	}

	result.OverallHealthy = result.Database.OK && (!result.Policy.Present || result.Policy.Valid)
	for _, d := range result.Accounts {
		result.OverallHealthy = result.OverallHealthy && d.Credentials
	}
	return result
}

func diagnoseAccount(ctx context.Context, a *app, acct models.Account) AccountDiagnosis {
	d := AccountDiagnosis{Provider: acct.Provider, ID: acct.ID}
	p, err := a.creds.Get(acct.Provider)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	secret, err := a.sealer.Open(acct.EncryptedSecret)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	if err := credentials.ValidateWithRetry(ctx, p, secret); err != nil {
		d.Error = err.Error()
		return d
	}
	d.Credentials = true
	return d
}

// renderDoctorTable writes the human-readable diagnostic output from result to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	fmt.Fprintf(w, "\nDatabase (%s):\n", result.Database.Driver)
	if result.Database.OK {
		doctorPrint(w, "Reachable", "OK", "")
	} else {
		doctorPrint(w, "Reachable", "FAIL", result.AccountsError)
	}

	fmt.Fprintln(w, "\nPolicy:")
	switch {
	case !result.Policy.Present:
		doctorPrint(w, "Policy file", "Not configured (optional)", "")
	case result.Policy.Valid:
		doctorPrint(w, "Policy file", "OK", result.Policy.Path)
	default:
		for _, e := range result.Policy.Errors {
			doctorPrint(w, "Policy file", "FAIL", e)
		}
	}

	fmt.Fprintln(w, "\nAccounts:")
	if len(result.Accounts) == 0 {
		doctorPrint(w, "Accounts", "None registered", "")
	}
	for _, d := range result.Accounts {
		label := fmt.Sprintf("%s/%s", d.Provider, d.ID)
		if d.Credentials {
			doctorPrint(w, label, "OK", "")
		} else {
			doctorPrint(w, label, "FAIL", d.Error)
		}
	}
}

// doctorPrint writes a single diagnostic check line to w.
// When detail is non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
