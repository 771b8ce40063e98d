// Package auth obtains bearer credentials for the activity API using the
// OAuth2 client-credentials grant.
//
// A TokenProvider exchanges Credentials (client id and secret) for a
// Credential (bearer token). Credentials come from a CredentialSource, which
// is consulted again on every reauthentication:
//
//	source := auth.NewChainSource(
//		auth.NewStaticSource(cfg.Credentials.ClientID, cfg.Credentials.ClientSecret),
//		auth.NewKeyringSource("default"),
//		auth.NewPromptSource(os.Stdin, os.Stderr),
//	)
//	provider, _ := auth.NewTokenProvider(auth.DefaultConfig(tokenURL), source, logger)
//	cred, err := auth.Login(ctx, provider, 3)
package auth

import (
	"time"
)

// Credentials identify the API client.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// Credential is a bearer token issued by the token endpoint.
type Credential struct {
	Token string

	// ExpiresAt is derived from expires_in; zero when the server did not say.
	ExpiresAt time.Time
}

// Valid reports whether the credential holds a token that has not expired at now.
// The server remains the authority: a valid-looking token may still get 403.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}
