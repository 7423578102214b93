package gcpsecurity

import (
	"context"
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// primitiveRoles are the legacy basic roles that grant broad project access.
var primitiveRoles = map[string]bool{
	"roles/owner":  true,
	"roles/editor": true,
}

// PrimitiveRoleCheck flags human users bound to roles/owner or roles/editor
// at project level.
type PrimitiveRoleCheck struct{ checkBase }

func (c PrimitiveRoleCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	policy, err := cl.Projects.GetIamPolicy(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("get IAM policy for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, b := range policy.Bindings {
		if !primitiveRoles[b.Role] {
			continue
		}
		for _, m := range b.Members {
			if !strings.HasPrefix(m, "user:") {
				continue
			}
			f := newFinding(c, models.SeverityHigh, project, m, "IAM_BINDING")
			f.Description = fmt.Sprintf("%s holds the basic role %s on project %s.", m, b.Role, project)
			f.Recommendation = "Replace basic roles with predefined roles scoped to the user's duties."
			f.Metadata["role"] = b.Role
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// PublicProjectMemberCheck flags project bindings granted to allUsers or
// allAuthenticatedUsers.
type PublicProjectMemberCheck struct{ checkBase }

func (c PublicProjectMemberCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	policy, err := cl.Projects.GetIamPolicy(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("get IAM policy for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, b := range policy.Bindings {
		for _, m := range b.Members {
			if !publicMembers[m] {
				continue
			}
			f := newFinding(c, models.SeverityCritical, project, b.Role, "IAM_BINDING")
			f.Description = fmt.Sprintf("Role %s on project %s is granted to %s.", b.Role, project, m)
			f.Recommendation = "Remove public principals from the project IAM policy."
			f.Metadata["member"] = m
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// ServiceAccountKeyCheck flags service accounts with user-managed keys.
// Google-managed keys rotate automatically and are not reported.
type ServiceAccountKeyCheck struct{ checkBase }

func (c ServiceAccountKeyCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	accounts, err := cl.ServiceAccounts.ListServiceAccounts(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list service accounts for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, sa := range accounts {
		keys, err := cl.ServiceAccounts.ListUserManagedKeys(ctx, sa.Name)
		if err != nil {
			return nil, fmt.Errorf("list keys for %s: %w", sa.Email, err)
		}
		if len(keys) == 0 {
			continue
		}
		f := newFinding(c, models.SeverityMedium, project, sa.Email, "SERVICE_ACCOUNT")
		f.Description = fmt.Sprintf("Service account %s has %d user-managed key(s).", sa.Email, len(keys))
		f.Recommendation = "Use workload identity or short-lived credentials and delete exported keys."
		f.Metadata["key_count"] = len(keys)
		findings = append(findings, f)
	}
	return findings, nil
}
