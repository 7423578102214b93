// Package phase runs the check units of one catalogue phase and reduces
// their outcomes into a phase result.
//
// A phase fails only when every job failed. When at least one job succeeded
// the phase completes with the succeeded jobs' findings, and the failed jobs'
// errors are kept as metadata. A phase with no jobs for the handle's scope is
// skipped.
package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/metrics"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

const (
	// DefaultConcurrency bounds concurrent check calls within one phase.
	DefaultConcurrency = 8

	// DefaultCheckTimeout bounds a single check invocation.
	DefaultCheckTimeout = 60 * time.Second
)

// ErrCheckTimeout is reported for a job that exceeded its timeout.
var ErrCheckTimeout = errors.New("check timed out")

// Spec describes one phase run.
type Spec struct {
	Number int
	Name   string
	Checks []checks.Check

	// Timeout bounds the whole phase. Zero means no phase-level bound.
	Timeout time.Duration
}

// UnitError records one failed job. It is phase metadata, never a finding.
type UnitError struct {
	CheckID string `json:"check_id"`
	Scope   string `json:"scope"`
	Message string `json:"message"`
}

func (e UnitError) String() string {
	return fmt.Sprintf("%s [%s]: %s", e.CheckID, e.Scope, e.Message)
}

// Outcome is the tagged result of one job: Err is nil for Ok(findings).
type Outcome struct {
	CheckID  string
	Scope    string
	Findings []models.Finding
	Err      error
}

// Result is the reduced phase result.
type Result struct {
	Status    models.PhaseStatus
	Findings  []models.Finding
	Errors    []UnitError
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Config tunes a Runner. Zero values take the package defaults.
type Config struct {
	Concurrency  int
	CheckTimeout time.Duration
}

// Runner executes phases. It is safe for concurrent use by several audits.
type Runner struct {
	concurrency  int
	checkTimeout time.Duration
	metrics      *metrics.Metrics
}

// NewRunner returns a Runner. m may be nil.
func NewRunner(cfg Config, m *metrics.Metrics) *Runner {
	r := &Runner{concurrency: cfg.Concurrency, checkTimeout: cfg.CheckTimeout, metrics: m}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	if r.checkTimeout <= 0 {
		r.checkTimeout = DefaultCheckTimeout
	}
	return r
}

type job struct {
	check checks.Check
	scope checks.Scope
}

// expand turns check units into jobs: a global unit runs once with the
// global scope, a regional unit once per handle region.
func expand(cs []checks.Check, regions []string) []job {
	var jobs []job
	for _, c := range cs {
		if c.Global() {
			jobs = append(jobs, job{check: c, scope: checks.Scope{Region: checks.GlobalScope}})
			continue
		}
		for _, region := range regions {
			jobs = append(jobs, job{check: c, scope: checks.Scope{Region: region}})
		}
	}
	return jobs
}

// Run executes spec against h. onStart is invoked once before any job runs
// so the caller can persist the running status; its error aborts the phase
// and is returned as-is. Job failures never produce an error return.
func (r *Runner) Run(ctx context.Context, spec Spec, h credentials.Handle, onStart func(context.Context) error) (Result, error) {
	jobs := expand(spec.Checks, h.Regions())
	if len(jobs) == 0 {
		return Result{Status: models.PhaseSkipped}, nil
	}
	if onStart != nil {
		if err := onStart(ctx); err != nil {
			return Result{}, err
		}
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	// Jobs report failure through their Outcome, so Wait never returns an error.
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = r.runJob(ctx, h, j)
			return nil
		})
	}
	g.Wait()

	res := reduce(outcomes)
	res.Duration = time.Since(start)

	log := zerolog.Ctx(ctx)
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		r.metrics.CheckError(string(h.Provider()), o.CheckID)
		log.Warn().Err(o.Err).
			Int("phase", spec.Number).
			Str("check_id", o.CheckID).
			Str("scope", o.Scope).
			Msg("check failed")
	}
	r.metrics.ObservePhase(string(h.Provider()), string(res.Status), res.Duration)
	return res, nil
}

// runJob runs one check under the per-check timeout. A check that ignores
// its context is abandoned once the deadline passes.
func (r *Runner) runJob(ctx context.Context, h credentials.Handle, j job) Outcome {
	out := Outcome{CheckID: j.check.ID(), Scope: j.scope.Region}

	jctx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		o := out
		defer func() {
			if p := recover(); p != nil {
				o.Findings = nil
				o.Err = fmt.Errorf("check %s panicked: %v", j.check.ID(), p)
			}
			done <- o
		}()
		o.Findings, o.Err = j.check.Run(jctx, h, j.scope)
	}()

	select {
	case o := <-done:
		if o.Err != nil && errors.Is(jctx.Err(), context.DeadlineExceeded) {
			o.Err = fmt.Errorf("%w after %s: %v", ErrCheckTimeout, r.checkTimeout, o.Err)
		}
		return o
	case <-jctx.Done():
		out.Err = fmt.Errorf("%w after %s", ErrCheckTimeout, r.checkTimeout)
		return out
	}
}

// reduce folds tagged outcomes into a Result. Findings keep job order.
func reduce(outcomes []Outcome) Result {
	var res Result
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed++
			res.Errors = append(res.Errors, UnitError{CheckID: o.CheckID, Scope: o.Scope, Message: o.Err.Error()})
			continue
		}
		res.Succeeded++
		res.Findings = append(res.Findings, o.Findings...)
	}
	switch {
	case len(outcomes) == 0:
		res.Status = models.PhaseSkipped
	case res.Succeeded == 0:
		res.Status = models.PhaseFailed
		res.Findings = nil
	default:
		res.Status = models.PhaseCompleted
	}
	return res
}
