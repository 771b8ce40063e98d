package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// CredentialSource supplies client credentials. It is consulted on every
// (re)authentication.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Reprompter is a source that can ask for corrected credentials after a
// rejection.
type Reprompter interface {
	Reprompt(ctx context.Context, cause error) (Credentials, error)
}

// StaticSource returns fixed credentials, typically from configuration.
type StaticSource struct {
	creds Credentials
}

// NewStaticSource creates a static source.
func NewStaticSource(clientID, clientSecret string) *StaticSource {
	return &StaticSource{creds: Credentials{ClientID: clientID, ClientSecret: clientSecret}}
}

// Credentials returns the configured credentials, or ErrCredentialsNotFound if either is empty.
func (s *StaticSource) Credentials(ctx context.Context) (Credentials, error) {
	if s.creds.Validate() != nil {
		return Credentials{}, ErrCredentialsNotFound
	}
	return s.creds, nil
}

const (
	keyringService = "activity-export"
	keyringPrefix  = "client_"
)

// KeyringSource stores credentials in the system keychain under a profile name.
type KeyringSource struct {
	profile string
}

// NewKeyringSource creates a keyring source for profile.
func NewKeyringSource(profile string) *KeyringSource {
	if profile == "" {
		profile = "default"
	}
	return &KeyringSource{profile: profile}
}

func (k *KeyringSource) key() string {
	return keyringPrefix + k.profile
}

// Credentials reads the profile's credentials from the keychain.
func (k *KeyringSource) Credentials(ctx context.Context) (Credentials, error) {
	data, err := keyring.Get(keyringService, k.key())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, ErrCredentialsNotFound
		}
		return Credentials{}, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Store saves credentials to the keychain.
func (k *KeyringSource) Store(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := keyring.Set(keyringService, k.key(), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Delete removes the profile's credentials from the keychain.
func (k *KeyringSource) Delete() error {
	err := keyring.Delete(keyringService, k.key())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// PromptSource asks for credentials interactively. The secret is read without
// echo when input is a terminal. Entered credentials are remembered, so
// reauthentication does not prompt again.
type PromptSource struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	fd      int
	isTerm  bool
	current *Credentials
}

// NewPromptSource creates a prompt source reading from in and writing prompts to out.
func NewPromptSource(in io.Reader, out io.Writer) *PromptSource {
	p := &PromptSource{
		in:  bufio.NewReader(in),
		out: out,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.isTerm = true
	}
	return p
}

// Credentials returns the remembered credentials, prompting the first time.
func (p *PromptSource) Credentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return *p.current, nil
	}
	return p.prompt()
}

// Reprompt reports cause and asks for new credentials.
func (p *PromptSource) Reprompt(ctx context.Context, cause error) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cause != nil {
		fmt.Fprintf(p.out, "Authentication failed: %v\nPlease try again.\n\n", cause)
	}
	p.current = nil
	return p.prompt()
}

func (p *PromptSource) prompt() (Credentials, error) {
	fmt.Fprint(p.out, "CLIENT_ID: ")
	id, err := p.readLine()
	if err != nil {
		return Credentials{}, fmt.Errorf("read client id: %w", err)
	}

	fmt.Fprint(p.out, "CLIENT_SECRET: ")
	secret, err := p.readSecret()
	if err != nil {
		return Credentials{}, fmt.Errorf("read client secret: %w", err)
	}

	creds := Credentials{ClientID: id, ClientSecret: secret}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	p.current = &creds
	return creds, nil
}

func (p *PromptSource) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads the secret without echo on a terminal.
func (p *PromptSource) readSecret() (string, error) {
	if p.isTerm {
		secret, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	return p.readLine()
}

// ChainSource tries sources in order, skipping those that report
// ErrCredentialsNotFound. After a successful Reprompt the reprompting
// source answers all later calls.
type ChainSource struct {
	mu      sync.Mutex
	sources []CredentialSource
	active  CredentialSource
}

// NewChainSource creates a chain over sources; nil entries are ignored.
func NewChainSource(sources ...CredentialSource) *ChainSource {
	chain := &ChainSource{}
	for _, s := range sources {
		if s != nil {
			chain.sources = append(chain.sources, s)
		}
	}
	return chain
}

// Credentials returns the first credentials found.
func (c *ChainSource) Credentials(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active != nil {
		return active.Credentials(ctx)
	}

	for _, s := range c.sources {
		creds, err := s.Credentials(ctx)
		if errors.Is(err, ErrCredentialsNotFound) {
			continue
		}
		if err != nil {
			return Credentials{}, err
		}
		c.mu.Lock()
		c.active = s
		c.mu.Unlock()
		return creds, nil
	}
	return Credentials{}, ErrCredentialsNotFound
}

// Reprompt delegates to the first source in the chain that can reprompt.
func (c *ChainSource) Reprompt(ctx context.Context, cause error) (Credentials, error) {
	for _, s := range c.sources {
		r, ok := s.(Reprompter)
		if !ok {
			continue
		}
		creds, err := r.Reprompt(ctx, cause)
		if err != nil {
			return Credentials{}, err
		}
		c.mu.Lock()
		c.active = s
		c.mu.Unlock()
		return creds, nil
	}
	return Credentials{}, fmt.Errorf("no interactive credential source: %w", cause)
}
