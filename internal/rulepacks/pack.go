// Package rulepacks assembles the per-provider check packs into the registry
// the audit engine runs from.
//
// Convention: every provider pack lives in internal/providers/<provider>/security
// and exposes a single New() func returning []checks.Check. New packs are
// added to Default.
package rulepacks

import (
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	awssecurity "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/aws/security"
	azuresecurity "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/azure/security"
	gcpsecurity "github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/gcp/security"
)

// Default returns a registry holding every AWS, GCP and Azure check.
func Default() *checks.Registry {
	reg := checks.NewRegistry()
	reg.RegisterAll(awssecurity.New())
	reg.RegisterAll(gcpsecurity.New())
	reg.RegisterAll(azuresecurity.New())
	return reg
}
