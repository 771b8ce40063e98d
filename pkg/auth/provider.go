package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var tokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "activity_auth_requests_total",
	Help: "Total token requests by kind (authenticate, reauthenticate) and result",
}, []string{"kind", "result"})

// maxBodySnippet bounds the response body kept in AuthError.
const maxBodySnippet = 200

// Config holds the token provider configuration.
type Config struct {
	// TokenURL is the client-credentials token endpoint.
	TokenURL string

	// Timeout per token request.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration for a token endpoint.
func DefaultConfig(tokenURL string) Config {
	return Config{
		TokenURL: tokenURL,
		Timeout:  30 * time.Second,
	}
}

// TokenProvider obtains and refreshes bearer credentials. It performs no
// internal retry; failures are surfaced to the caller.
type TokenProvider struct {
	config     Config
	source     CredentialSource
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewTokenProvider creates a token provider backed by source.
func NewTokenProvider(cfg Config, source CredentialSource, logger zerolog.Logger) (*TokenProvider, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("parse token URL: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &TokenProvider{
		config:     cfg,
		source:     source,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "token-provider").Logger(),
		now:        time.Now,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (p *TokenProvider) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

// Source returns the credential source.
func (p *TokenProvider) Source() CredentialSource {
	return p.source
}

// tokenResponse is the token endpoint response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate exchanges creds for a bearer credential.
// A rejection by the token endpoint is returned as *AuthError.
func (p *TokenProvider) Authenticate(ctx context.Context, creds Credentials) (Credential, error) {
	return p.authenticate(ctx, creds, "authenticate")
}

// Reauthenticate consults the credential source again and requests a fresh
// token, replacing an expired one.
func (p *TokenProvider) Reauthenticate(ctx context.Context) (Credential, error) {
	creds, err := p.source.Credentials(ctx)
	if err != nil {
		tokenRequestsTotal.WithLabelValues("reauthenticate", "source_error").Inc()
		return Credential{}, fmt.Errorf("load credentials: %w", err)
	}
	return p.authenticate(ctx, creds, "reauthenticate")
}

func (p *TokenProvider) authenticate(ctx context.Context, creds Credentials, kind string) (Credential, error) {
	if err := creds.Validate(); err != nil {
		tokenRequestsTotal.WithLabelValues(kind, "invalid").Inc()
		return Credential{}, err
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		tokenRequestsTotal.WithLabelValues(kind, "network_error").Inc()
		return Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tokenRequestsTotal.WithLabelValues(kind, "network_error").Inc()
		return Credential{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		tokenRequestsTotal.WithLabelValues(kind, "rejected").Inc()
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		tokenRequestsTotal.WithLabelValues(kind, "rejected").Inc()
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: truncate(body), Err: err}
	}
	if tr.AccessToken == "" {
		tokenRequestsTotal.WithLabelValues(kind, "rejected").Inc()
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Body: truncate(body), Err: fmt.Errorf("missing access_token")}
	}

	cred := Credential{Token: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	tokenRequestsTotal.WithLabelValues(kind, "ok").Inc()
	p.logger.Debug().Str("kind", kind).Time("expires_at", cred.ExpiresAt).Msg("Obtained bearer token")
	return cred, nil
}

func truncate(body []byte) string {
	if len(body) <= maxBodySnippet {
		return string(body)
	}
	return string(body[:maxBodySnippet])
}
