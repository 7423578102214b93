package gcpsecurity

import (
	"context"
	"fmt"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// PublicBucketCheck flags Cloud Storage buckets whose IAM policy grants
// access to allUsers or allAuthenticatedUsers.
type PublicBucketCheck struct{ checkBase }

func (c PublicBucketCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	buckets, err := cl.Buckets.ListBuckets(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list buckets for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, b := range buckets {
		policy, err := cl.Buckets.GetBucketIamPolicy(ctx, b.Name)
		if err != nil {
			return nil, fmt.Errorf("get IAM policy for bucket %s: %w", b.Name, err)
		}
		member, role := "", ""
		for _, binding := range policy.Bindings {
			for _, m := range binding.Members {
				if publicMembers[m] {
					member, role = m, binding.Role
				}
			}
		}
		if member == "" {
			continue
		}
		f := newFinding(c, models.SeverityCritical, project, b.Name, "GCS_BUCKET")
		f.Description = fmt.Sprintf("Bucket %s grants %s to %s.", b.Name, role, member)
		f.Recommendation = "Enable public access prevention and remove public principals."
		findings = append(findings, f)
	}
	return findings, nil
}

// UniformAccessCheck flags buckets that still use fine-grained ACLs.
type UniformAccessCheck struct{ checkBase }

func (c UniformAccessCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	buckets, err := cl.Buckets.ListBuckets(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list buckets for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, b := range buckets {
		cfg := b.IamConfiguration
		if cfg != nil && cfg.UniformBucketLevelAccess != nil && cfg.UniformBucketLevelAccess.Enabled {
			continue
		}
		f := newFinding(c, models.SeverityMedium, project, b.Name, "GCS_BUCKET")
		f.Description = fmt.Sprintf("Bucket %s does not enforce uniform bucket-level access.", b.Name)
		f.Recommendation = "Enable uniform bucket-level access so IAM alone controls access."
		f.Region = b.Location
		findings = append(findings, f)
	}
	return findings, nil
}
