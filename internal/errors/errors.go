// Package errors defines the error taxonomy shared across internal
// packages. Callers branch on these with errors.Is/errors.As, never by
// string matching.
package errors

import (
	"errors"
	"fmt"
)

// Configuration and resolution errors.
var (
	ErrConfig        = errors.New("invalid configuration")
	ErrNoCredentials = errors.New("no usable credential")
)

// Store errors.
var (
	ErrCorruptStore = errors.New("token store is corrupt")
	ErrLockTimeout  = errors.New("timed out waiting for token store lock")
)

// Terminal device-flow outcomes. Never retried automatically; the caller
// decides whether to restart the flow.
var (
	ErrAuthorizationDenied     = errors.New("authorization denied by user")
	ErrGrantExpired            = errors.New("device authorization grant expired")
	ErrAuthenticationCancelled = errors.New("authentication cancelled")
)

// NetworkError wraps a transport failure talking to the authorization or
// token endpoints. It is caller-retryable; nothing in this module retries
// it automatically.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (retry may help): %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err (or any error in its chain) is a
// NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
