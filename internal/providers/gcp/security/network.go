package gcpsecurity

import (
	"context"
	"fmt"

	"google.golang.org/api/compute/v1"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// FirewallOpenPortCheck flags enabled ingress firewall rules that admit one
// administrative port from 0.0.0.0/0.
type FirewallOpenPortCheck struct {
	checkBase
	port    int
	service string
}

func (c FirewallOpenPortCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, project, err := c.target(ctx, h)
	if err != nil {
		return nil, err
	}
	rules, err := cl.Firewalls.ListFirewalls(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list firewalls for %s: %w", project, err)
	}

	var findings []models.Finding
	for _, fw := range rules {
		if fw.Disabled || fw.Direction == "EGRESS" || !fromInternet(fw.SourceRanges) || !allowsPort(fw.Allowed, c.port) {
			continue
		}
		f := newFinding(c, models.SeverityHigh, project, fw.Name, "FIREWALL_RULE")
		f.Description = fmt.Sprintf("Firewall rule %s allows %s (port %d) from 0.0.0.0/0.", fw.Name, c.service, c.port)
		f.Recommendation = fmt.Sprintf("Restrict port %d to trusted ranges or use Identity-Aware Proxy.", c.port)
		f.Metadata["network"] = fw.Network
		findings = append(findings, f)
	}
	return findings, nil
}

func fromInternet(ranges []string) bool {
	for _, r := range ranges {
		if r == "0.0.0.0/0" || r == "::/0" {
			return true
		}
	}
	return false
}

// allowsPort treats an entry with no ports as covering every port of its
// protocol, matching the Compute API semantics.
func allowsPort(allowed []*compute.FirewallAllowed, port int) bool {
	for _, a := range allowed {
		if a.IPProtocol != "tcp" && a.IPProtocol != "all" {
			continue
		}
		if len(a.Ports) == 0 {
			return true
		}
		for _, p := range a.Ports {
			if checks.PortInRange(p, port) {
				return true
			}
		}
	}
	return false
}
