package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	creds "github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// readOnlyScope is the only OAuth scope requested; audits never write.
const readOnlyScope = "https://www.googleapis.com/auth/cloud-platform.read-only"

// ProjectLookup reads the project metadata with c. It is the validation call.
type ProjectLookup func(ctx context.Context, c *google.Credentials, projectID string) error

// Provider is the production credentials.Provider for GCP.
type Provider struct {
	lookup ProjectLookup
}

// NewProvider returns a provider that validates through Cloud Resource Manager.
func NewProvider() *Provider {
	return &Provider{lookup: getProject}
}

// NewProviderWithLookup replaces the validation call. Used by tests.
func NewProviderWithLookup(l ProjectLookup) *Provider {
	return &Provider{lookup: l}
}

func (p *Provider) Name() models.Provider { return models.ProviderGCP }

// CheckSecret parses the stored shape and the embedded key file.
func (p *Provider) CheckSecret(secret creds.Secret) error {
	s, err := parseSecret(secret)
	if err != nil {
		return err
	}
	if _, err := google.CredentialsFromJSON(context.Background(), s.ServiceAccount, readOnlyScope); err != nil {
		return fmt.Errorf("%w: %v", creds.ErrMalformedSecret, err)
	}
	return nil
}

// Validate parses the key and reads the project with it.
func (p *Provider) Validate(ctx context.Context, secret creds.Secret) error {
	_, err := p.Authenticate(ctx, secret)
	return err
}

// Authenticate parses the service-account key, checks it can read the
// project and returns a Handle scoped to that project.
func (p *Provider) Authenticate(ctx context.Context, secret creds.Secret) (creds.Handle, error) {
	s, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	c, err := google.CredentialsFromJSON(ctx, s.ServiceAccount, readOnlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", creds.ErrMalformedSecret, err)
	}
	if err := p.lookup(ctx, c, s.ProjectID); err != nil {
		return nil, classify(s.ProjectID, err)
	}
	return NewHandle(s.ProjectID, c), nil
}

func getProject(ctx context.Context, c *google.Credentials, projectID string) error {
	svc, err := cloudresourcemanager.NewService(ctx, option.WithCredentials(c))
	if err != nil {
		return err
	}
	_, err = svc.Projects.Get(projectID).Context(ctx).Do()
	return err
}

// classify maps Google API errors onto the credentials taxonomy. A project
// the key cannot see is reported as rejected, like a bad key; a token
// endpoint refusing the key (invalid_grant) is rejected too.
func classify(projectID string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: project %s: %v", creds.ErrAuthRejected, projectID, err)
		}
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil && rErr.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: project %s: %v", creds.ErrAuthRejected, projectID, err)
	}
	return fmt.Errorf("%w: project %s: %v", creds.ErrTransient, projectID, err)
}
