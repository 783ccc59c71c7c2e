package session

import (
	"context"
	"fmt"
	"strings"
)

// FlowOptions tune how the login surface is presented.
type FlowOptions struct {
	// ClearSession asks the surface to drop any cached SSO session so the
	// user has to authenticate again. Used for re-login after logout.
	ClearSession bool
}

// LoginFlow presents the SSO login page.
type LoginFlow interface {
	// Open presents loginURL. An error means the surface could not be shown.
	Open(ctx context.Context, loginURL string, opts FlowOptions) (FlowHandle, error)
}

// FlowHandle observes an open login surface.
type FlowHandle interface {
	// Navigations delivers every URL the surface navigates to.
	Navigations() <-chan string

	// Exited is closed when the user closes the surface.
	Exited() <-chan struct{}

	// Close dismisses the surface.
	Close() error
}

// Redirect fragment keys.
const (
	fragmentToken    = "token"
	fragmentKeyID    = "keyId"
	fragmentExpiry   = "expiry"
	fragmentUsername = "username"
)

// LoginResponse is the refresh credential carried by the login redirect.
type LoginResponse struct {
	Token    string
	KeyID    string
	Expiry   int64
	Username string
}

// ParseFragment splits a URL fragment into its &-joined key=value pairs.
// Values are taken verbatim. A pair without '=' maps to an empty value and
// later duplicates replace earlier ones.
func ParseFragment(fragment string) map[string]string {
	params := make(map[string]string)
	if fragment == "" {
		return params
	}
	for _, pair := range strings.Split(fragment, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		params[key] = value
	}
	return params
}

// ParseRedirect extracts the refresh credential from a login redirect URL of
// the form prefix#token=T&keyId=K&expiry=E&username=U, in any order.
// Additional keys are ignored.
func ParseRedirect(rawURL string) (*LoginResponse, error) {
	_, fragment, _ := strings.Cut(rawURL, "#")
	params := ParseFragment(fragment)

	var missing []string
	for _, key := range []string{fragmentToken, fragmentKeyID, fragmentExpiry, fragmentUsername} {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidLoginResponse, strings.Join(missing, ", "))
	}

	expiry, ok := ParseExpiry(params[fragmentExpiry])
	if !ok {
		return nil, fmt.Errorf("%w: malformed expiry %q", ErrInvalidLoginResponse, params[fragmentExpiry])
	}

	return &LoginResponse{
		Token:    params[fragmentToken],
		KeyID:    params[fragmentKeyID],
		Expiry:   expiry,
		Username: params[fragmentUsername],
	}, nil
}
