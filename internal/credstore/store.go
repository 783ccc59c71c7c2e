package credstore

import (
	"context"
	"errors"
)

// Keys of the persisted session layout.
const (
	KeyRefreshToken  = "refreshKey"
	KeyRefreshKeyID  = "refreshKeyId"
	KeyRefreshExpiry = "refreshExpiry"
	KeyAccessToken   = "accessKey"
	KeyAccessKeyID   = "accessKeyId"
	KeyAccessExpiry  = "accessExpiry"

	// KeyUsername is owned by the identity package; it lives in the same
	// store so one backend serves the whole client.
	KeyUsername = "username"
)

// ErrNotReady is returned by Get, Set and Remove when Ready has not completed.
var ErrNotReady = errors.New("credential store not ready")

// Store is durable key-value persistence for session credentials.
type Store interface {
	// Ready initializes the backend. It is idempotent and must succeed
	// before any other call.
	Ready(ctx context.Context) error

	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Clearer is implemented by stores that can drop every key at once.
type Clearer interface {
	Clear(ctx context.Context) error
}
