package pagination

import (
	"errors"
	"fmt"
)

// Reasons for a window ending in SUBDIVIDE or ABORTED.
var (
	// ErrOffsetCeiling means paging reached the offset ceiling before the window ran dry.
	ErrOffsetCeiling = errors.New("offset ceiling reached")

	// ErrWindowTooCoarse means the API rejected the window with 400 or 404.
	ErrWindowTooCoarse = errors.New("window too coarse")

	// ErrTransientNetwork means every attempt of a page failed at the transport level.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrAuthorizationExpired means the 403 budget of a page was used up.
	ErrAuthorizationExpired = errors.New("authorization expired")
)

// UnhandledResponseError is the reason for a window aborted on an unexpected
// status or an undecodable body.
type UnhandledResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *UnhandledResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unhandled response (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("unhandled response (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UnhandledResponseError) Unwrap() error {
	return e.Err
}
