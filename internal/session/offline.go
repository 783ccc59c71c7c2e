package session

import "context"

// Offline is the Renewer used in debug mode. It reports success immediately
// and never touches the store, the network or a login surface.
type Offline struct{}

// EnsureAccessToken always succeeds.
func (Offline) EnsureAccessToken(context.Context) error { return nil }

// EnsureRefreshToken always succeeds.
func (Offline) EnsureRefreshToken(context.Context, bool) error { return nil }

var _ Renewer = Offline{}
