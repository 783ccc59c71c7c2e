package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"irisctl/internal/iris"
	"irisctl/internal/session"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitAuthRequired = 2
	ExitAuthFailed   = 3
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a refused or unreachable server.
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a request timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates the Iris server could not be reached.
type ConnectionError struct {
	// Endpoint is the server that could not be reached.
	Endpoint string
	// Type categorizes the connection error.
	Type ConnectionErrorType
	// Reason is the underlying error.
	Reason error
}

// Error returns the message with a hint for the error type.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s reaching %s: %v", e.Type, e.Endpoint, e.Reason)
	switch e.Type {
	case ConnectionErrorTLS:
		msg += "\n\nCheck that baseURL uses the right host and that its certificate is trusted."
	case ConnectionErrorDNS:
		msg += "\n\nCheck baseURL in your irisctl configuration."
	case ConnectionErrorTimeout:
		msg += "\n\nThe server did not answer in time; raise http.timeout if it is slow."
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps err in a ConnectionError of the matching
// type. A nil err yields nil.
func ClassifyConnectionError(err error, endpoint string) *ConnectionError {
	if err == nil {
		return nil
	}

	connErr := &ConnectionError{Endpoint: endpoint, Type: ConnectionErrorUnknown, Reason: err}

	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		connErr.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		connErr.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		connErr.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		connErr.Type = ConnectionErrorNetwork
	}
	return connErr
}

func isTLSError(err error) bool {
	var certErr x509.CertificateInvalidError
	var hostErr x509.HostnameError
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuthErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError means there is no valid session and interactive login
// was not allowed.
type AuthRequiredError struct {
	// Endpoint is the Iris server.
	Endpoint string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To log in, run:
  irisctl auth login

To check current authentication status:
  irisctl auth status`, e.Endpoint)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthFailedError means credential renewal or login failed.
type AuthFailedError struct {
	// Endpoint is the Iris server.
	Endpoint string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	hint := "To retry, run:\n  irisctl auth login"
	if errors.Is(e.Reason, session.ErrLoginAbandoned) {
		hint = "The login page was closed before completing. To retry, run:\n  irisctl auth login"
	} else if errors.Is(e.Reason, iris.ErrUnauthorized) {
		hint = "The server rejected the stored credentials. To log in again, run:\n  irisctl auth login --force"
	}
	return fmt.Sprintf("Authentication failed for %s: %v\n\n%s", e.Endpoint, e.Reason, hint)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// Classify turns an error from the session or iris packages into the CLI
// error that describes it best. Other errors are returned unchanged.
func Classify(err error, endpoint string) error {
	if err == nil {
		return nil
	}

	var required *AuthRequiredError
	var failed *AuthFailedError
	var conn *ConnectionError
	if errors.As(err, &required) || errors.As(err, &failed) || errors.As(err, &conn) {
		return err
	}

	var renewal *session.RenewalError
	switch {
	case errors.As(err, &renewal),
		session.IsLoginError(err),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, iris.ErrUnauthorized):
		return &AuthFailedError{Endpoint: endpoint, Reason: err}
	case errors.Is(err, session.ErrNetwork):
		return ClassifyConnectionError(err, endpoint)
	}
	return err
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, &AuthRequiredError{}):
		return ExitAuthRequired
	case errors.Is(err, &AuthFailedError{}):
		return ExitAuthFailed
	default:
		return ExitError
	}
}
