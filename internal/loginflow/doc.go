// Package loginflow presents the Iris SSO login page in the system browser.
//
// The SSO page finishes by redirecting to the configured redirect URL with
// the refresh credential in the URL fragment. A fragment never reaches a
// server, so the loopback relay listening on the redirect URL's host serves a
// small page that posts its own location back. Each posted location is
// delivered to the session manager as a navigation event.
//
// When the browser cannot be launched the login URL is printed so the user
// can open it by hand.
package loginflow
