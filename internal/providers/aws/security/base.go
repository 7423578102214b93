package awssecurity

import (
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/aws/common"
)

// globalRegion is the endpoint region used for account-wide services.
const globalRegion = "us-east-1"

// checkBase carries the identity every AWS check shares plus the client
// factory used to reach the service APIs.
type checkBase struct {
	id      string
	name    string
	phase   int
	global  bool
	factory secClientFactory
}

func (b checkBase) ID() string                { return b.id }
func (b checkBase) Name() string              { return b.name }
func (b checkBase) Phase() int                { return b.phase }
func (b checkBase) Global() bool              { return b.global }
func (b checkBase) Provider() models.Provider { return models.ProviderAWS }

// target resolves the AWS handle and returns clients bound to the scope's
// region together with the region that should be stamped on findings.
func (b checkBase) target(h credentials.Handle, scope checks.Scope) (*secClients, *common.Handle, string, error) {
	ah, err := checks.HandleAs[*common.Handle](b.id, h)
	if err != nil {
		return nil, nil, "", err
	}
	region := scope.Region
	endpoint := region
	if region == "" || region == checks.GlobalScope {
		region = checks.GlobalScope
		endpoint = globalRegion
	}
	return b.factory(ah.ConfigForRegion(endpoint)), ah, region, nil
}

// withAccount stamps the account metadata every AWS finding carries.
func withAccount(f models.Finding, accountID string) models.Finding {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	f.Metadata["account_id"] = accountID
	return f
}
