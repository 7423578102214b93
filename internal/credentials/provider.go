// Package credentials normalises the per-provider secret shapes (AWS access
// keys or role, GCP service-account JSON, Azure client secret) behind one
// contract so the audit engine stays provider-agnostic.
package credentials

import (
	"context"
	"errors"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

var (
	// ErrMalformedSecret is a configuration error: the stored secret cannot be
	// parsed or is missing required fields. It is never retried.
	ErrMalformedSecret = errors.New("malformed credential secret")

	// ErrAuthRejected means the provider refused the credentials.
	ErrAuthRejected = errors.New("credentials rejected by provider")

	// ErrTransient marks a network or throttling failure during validation.
	// Callers may retry once.
	ErrTransient = errors.New("transient provider error")
)

// Secret is decrypted credential material in the provider's JSON shape.
// It is held in memory only for the duration of Validate or Authenticate.
type Secret []byte

// Handle is a reusable capability bound to one provider and one
// account/project/subscription. Check units receive it on every invocation;
// implementations must not re-read secret material per call.
type Handle interface {
	// Provider is the provider tag the handle was built for.
	Provider() models.Provider

	// AccountID is the provider-native identity the handle is scoped to.
	AccountID() string

	// Regions lists the regional scopes regional checks iterate over.
	Regions() []string
}

// Provider validates and authenticates secrets for one cloud provider.
type Provider interface {
	// Name returns the provider tag this implementation serves.
	Name() models.Provider

	// CheckSecret verifies the secret's shape offline, without contacting
	// the provider. A missing or unparsable field is ErrMalformedSecret.
	CheckSecret(secret Secret) error

	// Validate performs one cheap authenticated read call and never mutates
	// provider state.
	Validate(ctx context.Context, secret Secret) error

	// Authenticate builds a Handle bound to the secret's scope.
	Authenticate(ctx context.Context, secret Secret) (Handle, error)
}
