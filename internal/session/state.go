package session

import (
	"context"
	"time"

	"irisctl/internal/credstore"
)

// Debug credential placeholders written by DebugLogin.
const (
	debugAccessToken = "abc"
	debugAccessKeyID = "123"
)

// CredentialState describes one stored credential at a point in time.
type CredentialState struct {
	Present bool
	KeyID   string
	Expiry  *int64
	Valid   bool
}

// ExpiresAt returns the expiry as a time, or the zero time when absent.
func (c CredentialState) ExpiresAt() time.Time {
	if c.Expiry == nil {
		return time.Time{}
	}
	return time.Unix(*c.Expiry, 0)
}

// State is the session state derived from stored expiries. There is no
// separate logged-in flag.
type State struct {
	Refresh   CredentialState
	Access    CredentialState
	CheckedAt time.Time
}

// LoggedIn reports whether a call could proceed without an interactive login.
func (s State) LoggedIn() bool {
	return s.Refresh.Valid
}

// Inspect derives the session state from store at now.
func Inspect(ctx context.Context, store credstore.Store, now time.Time) (State, error) {
	refresh, err := inspectCredential(ctx, store, now, credstore.KeyRefreshToken, credstore.KeyRefreshKeyID, credstore.KeyRefreshExpiry)
	if err != nil {
		return State{}, err
	}
	access, err := inspectCredential(ctx, store, now, credstore.KeyAccessToken, credstore.KeyAccessKeyID, credstore.KeyAccessExpiry)
	if err != nil {
		return State{}, err
	}
	return State{Refresh: refresh, Access: access, CheckedAt: now}, nil
}

func inspectCredential(ctx context.Context, store credstore.Store, now time.Time, tokenKey, idKey, expiryKey string) (CredentialState, error) {
	tok, err := loadCredential(ctx, store, tokenKey, idKey, expiryKey)
	if err != nil {
		return CredentialState{}, err
	}

	state := CredentialState{
		Present: tok.AccessToken != "",
		KeyID:   KeyID(tok),
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.Unix()
		state.Expiry = &expiry
	}
	state.Valid = state.Present && IsValid(state.Expiry, now)
	return state, nil
}

// Logout makes both credentials read as expired by removing their expiries.
// The next EnsureRefreshToken will open the login page.
func Logout(ctx context.Context, store credstore.Store) error {
	if err := store.Ready(ctx); err != nil {
		return storeError("ready", credstore.KeyRefreshExpiry, err)
	}
	for _, key := range []string{credstore.KeyRefreshExpiry, credstore.KeyAccessExpiry} {
		if err := store.Remove(ctx, key); err != nil {
			return storeError("remove", key, err)
		}
	}
	return nil
}

// DebugLogin stores a placeholder access credential and username for use
// with the Offline strategy.
func DebugLogin(ctx context.Context, store credstore.Store, identity Identity, username string) error {
	if err := store.Ready(ctx); err != nil {
		return storeError("ready", credstore.KeyAccessToken, err)
	}
	if identity != nil {
		if err := identity.SetUsername(ctx, username); err != nil {
			return storeError("write", credstore.KeyUsername, err)
		}
	}
	if err := store.Set(ctx, credstore.KeyAccessToken, debugAccessToken); err != nil {
		return storeError("write", credstore.KeyAccessToken, err)
	}
	if err := store.Set(ctx, credstore.KeyAccessKeyID, debugAccessKeyID); err != nil {
		return storeError("write", credstore.KeyAccessKeyID, err)
	}
	return nil
}
