// Package checks defines the Check Unit contract, the fixed phase catalogue
// and the registry that maps providers and phases to their check units.
package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// GlobalScope is the scope passed to checks whose resources are not regional
// (IAM, S3 bucket listing, project-level IAM policy).
const GlobalScope = "global"

// Scope is the region or other partition a single check invocation covers.
type Scope struct {
	Region string
}

// Check is one atomic security test against a cloud resource type.
//
// Run must be side-effect free with respect to the audit's own state. A
// resource that does not exist is a finding-free result (nil, nil); an
// error is returned only when the check could not query the provider
// (permission denied, throttling exhausted, network failure).
// Implementations must be safe to call concurrently.
type Check interface {
	// ID returns the stable catalogue identifier (e.g. "AWS-IAM-001"). It becomes
	// Finding.FindingID on every finding the check emits.
	ID() string

	// Name returns a short human-readable check name.
	Name() string

	// Phase returns the catalogue phase number the check belongs to.
	Phase() int

	// Provider returns the cloud provider the check targets.
	Provider() models.Provider

	// Global reports whether the check runs once per account (true) or once
	// per region returned by Handle.Regions (false).
	Global() bool

	// Run executes the check.
	Run(ctx context.Context, h credentials.Handle, scope Scope) ([]models.Finding, error)
}

// NewFinding fills the fields every check sets identically. Callers set
// the resource-specific fields on the returned value.
func NewFinding(c Check, sev models.Severity, resourceID, region string) models.Finding {
	return models.Finding{
		FindingID:   c.ID(),
		PhaseNumber: c.Phase(),
		Severity:    sev,
		Title:       c.Name(),
		ResourceID:  resourceID,
		Region:      region,
		Status:      models.FindingOpen,
		DetectedAt:  time.Now().UTC(),
	}
}

// HandleAs asserts h to the provider-specific handle type T. A mismatch is a
// wiring error and is reported as the check's error.
func HandleAs[T credentials.Handle](checkID string, h credentials.Handle) (T, error) {
	typed, ok := h.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("check %s: unexpected handle type %T", checkID, h)
	}
	return typed, nil
}
