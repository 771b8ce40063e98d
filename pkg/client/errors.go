package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrMissingToken is returned when a request is issued without a bearer token.
	ErrMissingToken = errors.New("bearer token is required")
)

// ErrorClass represents a classification of activity API failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection errors, timeouts and truncated bodies.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAuthExpired represents HTTP 403: the bearer token is no longer accepted.
	ErrorClassAuthExpired ErrorClass = "auth_expired"

	// ErrorClassTooCoarse represents HTTP 400/404 on a window query: the window must be split.
	ErrorClassTooCoarse ErrorClass = "too_coarse"

	// ErrorClassDecode represents a 200 response whose body is not a data page.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassUnhandled represents any other HTTP status.
	ErrorClassUnhandled ErrorClass = "unhandled"
)

// ClassifyStatus maps a non-200 HTTP status to its error class.
func ClassifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusForbidden:
		return ErrorClassAuthExpired
	case http.StatusBadRequest, http.StatusNotFound:
		return ErrorClassTooCoarse
	default:
		return ErrorClassUnhandled
	}
}

// APIError represents an activity API failure with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("activity API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("activity API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the error class carried by err, or "" if err is not an *APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// IsTransient reports whether err is a network failure worth retrying.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassNetwork
}

// truncate shortens response bodies for logs and error messages.
func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}
