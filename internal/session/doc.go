// Package session keeps irisctl authenticated against the Iris mobile API.
//
// Two credentials are layered:
//
//   - the refresh credential is long-lived and comes from an interactive SSO
//     login (see LoginFlow);
//   - the access credential is short-lived and is obtained by exchanging the
//     refresh credential at {base}/refresh.
//
// Both are persisted in a credstore.Store as discrete fields and renewed
// lazily: EnsureAccessToken and EnsureRefreshToken check the stored expiry
// against now plus TokenRenewalLeeway and only do work when it is stale or
// missing. A missing expiry counts as expired.
//
// Concurrent callers of the same Ensure method share one renewal and all
// observe its outcome. Credential fields are written before success is
// reported, so anything that reads the store afterwards sees fresh values.
//
// # Strategies
//
// New returns a Renewer. With Config.Debug set it returns Offline, which
// reports success without touching the store or the network; otherwise it
// returns a *Manager. The choice is made once at construction.
package session
