package azuresecurity

import (
	"context"
	"fmt"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// internetSources are the NSG source prefixes that mean "anywhere".
var internetSources = map[string]bool{
	"*":         true,
	"0.0.0.0/0": true,
	"Internet":  true,
	"Any":       true,
}

// NSGOpenPortCheck flags network security groups with an inbound allow rule
// admitting one administrative port from the internet.
type NSGOpenPortCheck struct {
	checkBase
	port    int
	service string
}

func (c NSGOpenPortCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, sub, err := c.target(h)
	if err != nil {
		return nil, err
	}
	groups, err := cl.SecurityGroups.ListSecurityGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list network security groups in %s: %w", sub, err)
	}

	var findings []models.Finding
	for _, g := range groups {
		if g == nil || g.Properties == nil {
			continue
		}
		for _, r := range g.Properties.SecurityRules {
			if r == nil || !c.admits(r.Properties) {
				continue
			}
			f := newFinding(c, models.SeverityHigh, sub, to.String(g.ID), to.String(g.Location), "NETWORK_SECURITY_GROUP")
			f.Description = fmt.Sprintf("NSG %s rule %s allows %s (port %d) from the internet.",
				to.String(g.Name), to.String(r.Name), c.service, c.port)
			f.Recommendation = fmt.Sprintf("Restrict port %d to known ranges or use Azure Bastion.", c.port)
			f.Metadata["rule"] = to.String(r.Name)
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func (c NSGOpenPortCheck) admits(p *armnetwork.SecurityRulePropertiesFormat) bool {
	if p == nil || p.Direction == nil || p.Access == nil {
		return false
	}
	if *p.Direction != armnetwork.SecurityRuleDirectionInbound || *p.Access != armnetwork.SecurityRuleAccessAllow {
		return false
	}
	if p.Protocol != nil && *p.Protocol == armnetwork.SecurityRuleProtocolUDP {
		return false
	}
	return anyOf(p.SourceAddressPrefix, p.SourceAddressPrefixes, func(s string) bool { return internetSources[s] }) &&
		anyOf(p.DestinationPortRange, p.DestinationPortRanges, func(s string) bool { return checks.PortInRange(s, c.port) })
}

// anyOf applies match to the single value and the list form Azure uses
// interchangeably.
func anyOf(single *string, list []*string, match func(string) bool) bool {
	if single != nil && match(*single) {
		return true
	}
	for _, v := range list {
		if v != nil && match(*v) {
			return true
		}
	}
	return false
}
