package gcpsecurity

import (
	"context"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/gcp/common"
)

// checkBase carries the identity shared by every GCP check. All GCP checks
// are project-wide and therefore global.
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
func (b checkBase) Provider() models.Provider { return models.ProviderGCP }

func (b checkBase) target(ctx context.Context, h credentials.Handle) (*gcpClients, string, error) {
	gh, err := checks.HandleAs[*common.Handle](b.id, h)
	if err != nil {
		return nil, "", err
	}
	cl, err := b.factory(ctx, gh)
	if err != nil {
		return nil, "", err
	}
	return cl, gh.AccountID(), nil
}

// newFinding fills the project metadata every GCP finding carries.
func newFinding(c checks.Check, sev models.Severity, projectID, resourceID, resourceType string) models.Finding {
	f := checks.NewFinding(c, sev, resourceID, checks.GlobalScope)
	f.ResourceType = resourceType
	f.Metadata = map[string]any{"project_id": projectID}
	return f
}

// publicMembers are the IAM principals that grant access to anyone.
var publicMembers = map[string]bool{
	"allUsers":              true,
	"allAuthenticatedUsers": true,
}
