package gcpsecurity

import (
	"context"
	"fmt"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// requiredLogTypes must all be enabled for allServices.
var requiredLogTypes = []string{"ADMIN_READ", "DATA_READ", "DATA_WRITE"}

// AuditLogConfigCheck flags projects whose IAM policy does not enable data
// access audit logs for all services.
type AuditLogConfigCheck struct{ checkBase }

func (c AuditLogConfigCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	policy, err := cl.Projects.GetIamPolicy(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("get IAM policy for %s: %w", project, err)
	}

	enabled := map[string]bool{}
	for _, ac := range policy.AuditConfigs {
		if ac.Service != "allServices" {
			continue
		}
		for _, lc := range ac.AuditLogConfigs {
			enabled[lc.LogType] = true
		}
	}
	var missing []string
	for _, lt := range requiredLogTypes {
		if !enabled[lt] {
			missing = append(missing, lt)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	f := newFinding(c, models.SeverityMedium, project, project, "GCP_PROJECT")
	f.Description = fmt.Sprintf("Project %s does not enable audit log types %v for allServices.", project, missing)
	f.Recommendation = "Enable ADMIN_READ, DATA_READ and DATA_WRITE audit logs for allServices."
	f.Metadata["missing_log_types"] = missing
	return []models.Finding{f}, nil
}
