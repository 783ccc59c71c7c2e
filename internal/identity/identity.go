// Package identity records which user the stored credentials belong to.
package identity

import (
	"context"
	"fmt"

	"irisctl/internal/credstore"
	"irisctl/pkg/logging"
)

// Profile keeps the username in the credential store.
type Profile struct {
	store credstore.Store
}

// NewProfile returns a Profile backed by store.
func NewProfile(store credstore.Store) *Profile {
	return &Profile{store: store}
}

// Username returns the stored username, or "" when none is recorded.
func (p *Profile) Username(ctx context.Context) (string, error) {
	if err := p.store.Ready(ctx); err != nil {
		return "", fmt.Errorf("reading username: %w", err)
	}
	name, _, err := p.store.Get(ctx, credstore.KeyUsername)
	if err != nil {
		return "", fmt.Errorf("reading username: %w", err)
	}
	return name, nil
}

// SetUsername records the user a login was completed for.
func (p *Profile) SetUsername(ctx context.Context, username string) error {
	if err := p.store.Ready(ctx); err != nil {
		return fmt.Errorf("writing username: %w", err)
	}
	if err := p.store.Set(ctx, credstore.KeyUsername, username); err != nil {
		return fmt.Errorf("writing username: %w", err)
	}
	logging.Debug("Identity", "Username set to %s", username)
	return nil
}
