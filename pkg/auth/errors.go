package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when a client id or secret is empty.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCredentialsNotFound is returned by a source that holds no credentials.
	ErrCredentialsNotFound = errors.New("credentials not found")
)

// AuthError is returned when the token endpoint rejects a request.
type AuthError struct {
	StatusCode int

	// Body is the response body, truncated to maxBodySnippet bytes.
	Body string

	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
