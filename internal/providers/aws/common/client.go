package common

import (
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Secret is the JSON shape of stored AWS credential material.
// Either a static key pair is supplied, optionally combined with RoleARN to
// assume a role in the audited account.
type Secret struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
	RoleARN         string `json:"role_arn,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	Region          string `json:"region,omitempty"`
}

// Handle is the authenticated AWS capability threaded through every AWS
// check. It carries the fully loaded SDK configuration; checks derive
// region-scoped clients from it via ConfigForRegion.
type Handle struct {
	accountID string
	region    string
	regions   []string
	config    aws.Config
}

// NewHandle builds a Handle directly. Used by tests and by the provider.
func NewHandle(accountID, homeRegion string, regions []string, cfg aws.Config) *Handle {
	return &Handle{accountID: accountID, region: homeRegion, regions: regions, config: cfg}
}

func (h *Handle) Provider() models.Provider { return models.ProviderAWS }
func (h *Handle) AccountID() string         { return h.accountID }
func (h *Handle) Regions() []string         { return h.regions }

// HomeRegion is the region the credentials were loaded for.
func (h *Handle) HomeRegion() string { return h.region }

// ConfigForRegion returns a copy of the SDK config with Region set.
func (h *Handle) ConfigForRegion(region string) aws.Config {
	regional := h.config
	regional.Region = region
	return regional
}
