package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	creds "github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// armScope is the token audience for Azure Resource Manager.
const armScope = "https://management.azure.com/.default"

// CredentialFactory builds a token credential for a service principal.
type CredentialFactory func(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error)

// Provider is the production credentials.Provider for Azure.
type Provider struct {
	newCredential CredentialFactory
}

// NewProvider returns a provider backed by azidentity.
func NewProvider() *Provider {
	return &Provider{newCredential: clientSecretCredential}
}

// NewProviderWithFactory replaces credential construction. Used by tests.
func NewProviderWithFactory(f CredentialFactory) *Provider {
	return &Provider{newCredential: f}
}

func clientSecretCredential(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
	return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
}

func (p *Provider) Name() models.Provider { return models.ProviderAzure }

func (p *Provider) CheckSecret(secret creds.Secret) error {
	_, err := parseSecret(secret)
	return err
}

// Validate acquires an ARM token. Token acquisition is read-only.
func (p *Provider) Validate(ctx context.Context, secret creds.Secret) error {
	_, err := p.Authenticate(ctx, secret)
	return err
}

// Authenticate acquires an ARM token once to prove the principal works and
// returns a Handle that reuses the credential (azidentity caches tokens).
func (p *Provider) Authenticate(ctx context.Context, secret creds.Secret) (creds.Handle, error) {
	s, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	cred, err := p.newCredential(s.TenantID, s.ClientID, s.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", creds.ErrMalformedSecret, err)
	}
	if _, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}}); err != nil {
		return nil, classify(s.SubscriptionID, err)
	}
	return NewHandle(s.SubscriptionID, cred), nil
}

// classify: azidentity reports a refused principal as
// AuthenticationFailedError; anything else is treated as transient.
func classify(subscriptionID string, err error) error {
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: subscription %s: %v", creds.ErrAuthRejected, subscriptionID, err)
	}
	return fmt.Errorf("%w: subscription %s: %v", creds.ErrTransient, subscriptionID, err)
}
