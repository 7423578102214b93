package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// ValidateWithRetry calls p.Validate and retries exactly once when the first
// attempt fails with ErrTransient. Malformed and rejected secrets are
// returned immediately.
func ValidateWithRetry(ctx context.Context, p Provider, secret Secret) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx)

	return backoff.Retry(func() error {
		err := p.Validate(ctx, secret)
		if err == nil || errors.Is(err, ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
