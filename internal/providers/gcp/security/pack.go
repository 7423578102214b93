// Package gcpsecurity implements the GCP check units on top of the Google
// API client libraries. All checks are project-wide.
package gcpsecurity

import "github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"

// New returns the GCP checks wired to real Google API services.
func New() []checks.Check {
	return newWithFactory(newDefaultClients)
}

func newWithFactory(f clientFactory) []checks.Check {
	b := func(id, name string, phase int) checkBase {
		return checkBase{id: id, name: name, phase: phase, factory: f}
	}
	return []checks.Check{
		PrimitiveRoleCheck{b("GCP-IAM-001", "Basic owner/editor role granted to user", 1)},
		PublicProjectMemberCheck{b("GCP-IAM-002", "Project IAM granted to public principal", 1)},
		ServiceAccountKeyCheck{b("GCP-IAM-003", "User-managed service account key", 3)},
		PublicBucketCheck{b("GCP-GCS-001", "Public Cloud Storage bucket", 4)},
		UniformAccessCheck{b("GCP-GCS-002", "Uniform bucket-level access disabled", 4)},
		FirewallOpenPortCheck{checkBase: b("GCP-NET-001", "Firewall open to SSH", 5), port: 22, service: "SSH"},
		FirewallOpenPortCheck{checkBase: b("GCP-NET-002", "Firewall open to RDP", 5), port: 3389, service: "RDP"},
		AuditLogConfigCheck{b("GCP-LOG-001", "Data access audit logs disabled", 10)},
	}
}
