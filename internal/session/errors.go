package session

import (
	"errors"
	"fmt"
)

// Failure kinds. Errors returned by a Renewer wrap one of these, unless the
// caller's context ended first.
var (
	// ErrStoreUnavailable means the credential store could not be read or written.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrNetwork means an HTTP call to the backend failed or returned a non-2xx status.
	ErrNetwork = errors.New("network failure")

	// ErrInvalidLoginResponse means the login redirect lacked a required field.
	ErrInvalidLoginResponse = errors.New("invalid token refresh response from API")

	// ErrLoginAbandoned means the login surface was closed without completing.
	ErrLoginAbandoned = errors.New("login window closed")

	// ErrLoginSurfaceUnavailable means the login flow could not be opened.
	ErrLoginSurfaceUnavailable = errors.New("failed to open login page")
)

var kinds = []error{
	ErrStoreUnavailable,
	ErrNetwork,
	ErrInvalidLoginResponse,
	ErrLoginAbandoned,
	ErrLoginSurfaceUnavailable,
}

// Stage markers for access renewal failures.
var (
	// ErrRefreshFailed marks an access renewal that failed while securing
	// the refresh credential.
	ErrRefreshFailed = errors.New("refresh credential renewal failed")

	// ErrExchangeFailed marks an access renewal that failed while exchanging
	// the refresh credential for an access credential.
	ErrExchangeFailed = errors.New("access credential exchange failed")
)

// Stage identifies which step of an access renewal failed.
type Stage int

const (
	StageRefresh Stage = iota
	StageExchange
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageRefresh:
		return "refresh"
	case StageExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// RenewalError is returned by EnsureAccessToken. It matches both the stage
// marker (ErrRefreshFailed or ErrExchangeFailed) and the failure kind of the
// wrapped error.
type RenewalError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *RenewalError) Error() string {
	return fmt.Sprintf("%s: %v", e.marker(), e.Err)
}

// Unwrap exposes both the stage marker and the cause.
func (e *RenewalError) Unwrap() []error {
	return []error{e.marker(), e.Err}
}

// Kind returns the failure kind wrapped by the error, or nil when the cause
// is outside the taxonomy, such as an ended context.
func (e *RenewalError) Kind() error {
	for _, kind := range kinds {
		if errors.Is(e.Err, kind) {
			return kind
		}
	}
	return nil
}

func (e *RenewalError) marker() error {
	if e.Stage == StageRefresh {
		return ErrRefreshFailed
	}
	return ErrExchangeFailed
}

// IsLoginError reports whether err is one of the interactive login failures.
func IsLoginError(err error) bool {
	return errors.Is(err, ErrLoginAbandoned) ||
		errors.Is(err, ErrInvalidLoginResponse) ||
		errors.Is(err, ErrLoginSurfaceUnavailable)
}

func storeError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, key, err)
}
