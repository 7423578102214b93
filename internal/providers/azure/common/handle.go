// Package common authenticates Azure service principals and hands the
// resulting token credential to the Azure check units.
package common

import (
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	creds "github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Secret is the stored service principal.
type Secret struct {
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
}

func parseSecret(secret creds.Secret) (Secret, error) {
	var s Secret
	if err := json.Unmarshal(secret, &s); err != nil {
		return Secret{}, fmt.Errorf("%w: %v", creds.ErrMalformedSecret, err)
	}
	switch {
	case s.TenantID == "", s.ClientID == "", s.ClientSecret == "":
		return Secret{}, fmt.Errorf("%w: tenant_id, client_id and client_secret are required", creds.ErrMalformedSecret)
	case s.SubscriptionID == "":
		return Secret{}, fmt.Errorf("%w: subscription_id is required", creds.ErrMalformedSecret)
	}
	return s, nil
}

// Handle is the authenticated Azure capability for one subscription.
// Azure checks list resources subscription-wide, so Regions is empty.
type Handle struct {
	subscriptionID string
	credential     azcore.TokenCredential
}

func NewHandle(subscriptionID string, c azcore.TokenCredential) *Handle {
	return &Handle{subscriptionID: subscriptionID, credential: c}
}

func (h *Handle) Provider() models.Provider { return models.ProviderAzure }
func (h *Handle) AccountID() string         { return h.subscriptionID }
func (h *Handle) Regions() []string         { return nil }

// Credential is passed to ARM clients.
func (h *Handle) Credential() azcore.TokenCredential { return h.credential }
