// Package azuresecurity implements the Azure check units over the ARM
// storage and network clients.
package azuresecurity

import (
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// New returns the Azure checks wired to real ARM clients.
func New() []checks.Check {
	return newWithFactory(newDefaultClients)
}

func newWithFactory(f clientFactory) []checks.Check {
	b := func(id, name string, phase int) checkBase {
		return checkBase{id: id, name: name, phase: phase, factory: f}
	}
	return []checks.Check{
		StorageAccountCheck{
			checkBase:      b("AZ-STG-001", "Blob public access allowed", 4),
			severity:       models.SeverityHigh,
			recommendation: "Set allowBlobPublicAccess to false on the storage account.",
			rule:           blobPublicAccessAllowed,
		},
		NSGOpenPortCheck{checkBase: b("AZ-NET-001", "NSG open to SSH", 5), port: 22, service: "SSH"},
		NSGOpenPortCheck{checkBase: b("AZ-NET-002", "NSG open to RDP", 5), port: 3389, service: "RDP"},
		StorageAccountCheck{
			checkBase:      b("AZ-STG-002", "Storage account HTTPS-only disabled", 9),
			severity:       models.SeverityHigh,
			recommendation: "Enable secure transfer required (HTTPS only).",
			rule:           httpsOnlyDisabled,
		},
		StorageAccountCheck{
			checkBase:      b("AZ-STG-003", "Storage account minimum TLS below 1.2", 9),
			severity:       models.SeverityMedium,
			recommendation: "Set the minimum TLS version to TLS1_2.",
			rule:           weakTLS,
		},
	}
}
