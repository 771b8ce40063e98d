package auth

import (
	"context"
	"errors"
	"fmt"
)

// Login authenticates with credentials from the provider's source. When the
// token endpoint rejects them and the source is a Reprompter, it asks for
// corrected credentials, up to maxAttempts authentications in total.
// Errors other than *AuthError are returned immediately.
func Login(ctx context.Context, provider *TokenProvider, maxAttempts int) (Credential, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	source := provider.Source()
	creds, err := source.Credentials(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("load credentials: %w", err)
	}

	for attempt := 1; ; attempt++ {
		cred, err := provider.Authenticate(ctx, creds)
		if err == nil {
			provider.logger.Info().Int("attempt", attempt).Msg("Authenticated")
			return cred, nil
		}

		reprompter, ok := source.(Reprompter)
		retryable := IsAuthError(err) || errors.Is(err, ErrInvalidCredentials)
		if !ok || !retryable || attempt >= maxAttempts {
			return Credential{}, err
		}

		provider.logger.Warn().Err(err).Int("attempt", attempt).Msg("Authentication rejected, asking for new credentials")
		creds, err = reprompter.Reprompt(ctx, err)
		if err != nil {
			return Credential{}, fmt.Errorf("reprompt credentials: %w", err)
		}
	}
}
