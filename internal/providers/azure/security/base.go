package azuresecurity

import (
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/azure/common"
)

type checkBase struct {
	id      string
	name    string
	phase   int
	factory clientFactory
}

func (b checkBase) ID() string                { return b.id }
func (b checkBase) Name() string              { return b.name }
func (b checkBase) Phase() int                { return b.phase }
func (b checkBase) Global() bool              { return true }
func (b checkBase) Provider() models.Provider { return models.ProviderAzure }

func (b checkBase) target(h credentials.Handle) (*azureClients, string, error) {
	ah, err := checks.HandleAs[*common.Handle](b.id, h)
	if err != nil {
		return nil, "", err
	}
	cl, err := b.factory(ah)
	if err != nil {
		return nil, "", err
	}
	return cl, ah.AccountID(), nil
}

// newFinding stamps the resource location as region, the subscription as
// metadata.
func newFinding(c checks.Check, sev models.Severity, subscriptionID, resourceID, location, resourceType string) models.Finding {
	if location == "" {
		location = checks.GlobalScope
	}
	f := checks.NewFinding(c, sev, resourceID, location)
	f.ResourceType = resourceType
	f.Metadata = map[string]any{"subscription_id": subscriptionID}
	return f
}
