// Package common authenticates GCP service accounts and carries the
// resulting credentials to the GCP check units.
package common

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	creds "github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Secret is the stored GCP credential shape: a service-account key file and
// the project to audit. ProjectID falls back to the key's own project_id.
type Secret struct {
	ProjectID      string          `json:"project_id"`
	ServiceAccount json.RawMessage `json:"service_account"`
}

func parseSecret(secret creds.Secret) (Secret, error) {
	var s Secret
	if err := json.Unmarshal(secret, &s); err != nil {
		return Secret{}, fmt.Errorf("%w: %v", creds.ErrMalformedSecret, err)
	}
	if len(s.ServiceAccount) == 0 {
		return Secret{}, fmt.Errorf("%w: service_account is required", creds.ErrMalformedSecret)
	}
	if s.ProjectID == "" {
		var key struct {
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal(s.ServiceAccount, &key); err == nil {
			s.ProjectID = key.ProjectID
		}
	}
	if s.ProjectID == "" {
		return Secret{}, fmt.Errorf("%w: project_id is required", creds.ErrMalformedSecret)
	}
	return s, nil
}

// Handle is the authenticated GCP capability. All GCP checks are
// project-wide, so Regions is empty.
type Handle struct {
	projectID   string
	credentials *google.Credentials
}

// NewHandle builds a Handle for projectID. credentials may be nil in tests
// that replace the client factory.
func NewHandle(projectID string, c *google.Credentials) *Handle {
	return &Handle{projectID: projectID, credentials: c}
}

func (h *Handle) Provider() models.Provider { return models.ProviderGCP }
func (h *Handle) AccountID() string         { return h.projectID }
func (h *Handle) Regions() []string         { return nil }

// ClientOptions returns the options API services are built with.
func (h *Handle) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithCredentials(h.credentials)}
}
