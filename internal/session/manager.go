package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"irisctl/internal/credstore"
	"irisctl/pkg/logging"
)

// HeaderKeyID carries the id of the credential presented in Authorization.
const HeaderKeyID = "X-Iris-Key-Id"

// DefaultHTTPTimeout bounds the access credential exchange.
const DefaultHTTPTimeout = 30 * time.Second

// maxExchangeResponseSize caps how much of the exchange response is read.
const maxExchangeResponseSize = 1 << 20

// Renewer guarantees fresh credentials before an API call.
type Renewer interface {
	// EnsureAccessToken returns nil once a valid access credential is stored.
	EnsureAccessToken(ctx context.Context) error

	// EnsureRefreshToken returns nil once a valid refresh credential is
	// stored. forceInteractive skips the validity check and asks the login
	// surface to clear any cached SSO session.
	EnsureRefreshToken(ctx context.Context, forceInteractive bool) error
}

// Identity records who a refresh credential was issued to.
type Identity interface {
	SetUsername(ctx context.Context, username string) error
}

// Config configures a Renewer.
type Config struct {
	// Store persists the credentials.
	Store credstore.Store

	// LoginFlow presents the SSO page when the refresh credential is stale.
	LoginFlow LoginFlow

	// Identity receives the username from a completed login.
	Identity Identity

	// HTTPClient performs the access credential exchange.
	HTTPClient *http.Client

	// APIBase is the API root ({baseURL}{apiPath}); the exchange endpoint is
	// APIBase + "/refresh".
	APIBase string

	// LoginURL is the SSO page opened by the login flow.
	LoginURL string

	// RedirectURL is the prefix that marks the login redirect.
	RedirectURL string

	// Clock defaults to the system clock.
	Clock Clock

	// Metrics is optional.
	Metrics *Metrics

	// Debug selects the Offline strategy.
	Debug bool
}

// New returns the Renewer selected by cfg.Debug.
func New(cfg Config) (Renewer, error) {
	if cfg.Debug {
		logging.Warn("Session", "Debug mode: credential renewal is disabled")
		return Offline{}, nil
	}
	return NewManager(cfg)
}

// Manager is the production Renewer.
type Manager struct {
	store       credstore.Store
	flow        LoginFlow
	identity    Identity
	httpClient  *http.Client
	refreshURL  string
	loginURL    string
	redirectURL string
	clock       Clock
	metrics     *Metrics

	// group coalesces concurrent renewals of the same credential.
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by the callers of one coalesced renewal. It
// is cancelled only when the last waiting caller leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.LoginFlow == nil {
		return nil, errors.New("session: login flow is required")
	}
	if cfg.APIBase == "" {
		return nil, errors.New("session: API base URL is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("session: redirect URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Manager{
		store:       cfg.Store,
		flow:        cfg.LoginFlow,
		identity:    cfg.Identity,
		httpClient:  httpClient,
		refreshURL:  strings.TrimSuffix(cfg.APIBase, "/") + "/refresh",
		loginURL:    cfg.LoginURL,
		redirectURL: cfg.RedirectURL,
		clock:       clock,
		metrics:     cfg.Metrics,
		flights:     make(map[string]*flight),
	}, nil
}

// EnsureAccessToken returns nil once a valid access credential is stored,
// renewing the refresh credential and exchanging it if needed.
func (m *Manager) EnsureAccessToken(ctx context.Context) error {
	return m.coalesce(ctx, "access", m.ensureAccessToken)
}

// EnsureRefreshToken returns nil once a valid refresh credential is stored,
// running the interactive login if needed.
func (m *Manager) EnsureRefreshToken(ctx context.Context, forceInteractive bool) error {
	key := "refresh"
	if forceInteractive {
		key = "refresh-forced"
	}
	return m.coalesce(ctx, key, func(ctx context.Context) error {
		return m.ensureRefreshToken(ctx, forceInteractive)
	})
}

// coalesce runs fn once for all concurrent callers using key. The work runs
// detached from any single caller: each caller may stop waiting when its own
// context ends, and the renewal is abandoned only once no caller is left.
func (m *Manager) coalesce(ctx context.Context, key string, fn func(context.Context) error) error {
	m.mu.Lock()
	f := m.flights[key]
	if f == nil {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: shared, cancel: cancel}
		m.flights[key] = f
	}
	f.waiters++
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return nil, fn(f.ctx)
	})
	m.mu.Unlock()

	defer m.leave(key, f)

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave drops one waiter from f. The last one out cancels the shared work and
// forgets it, so a later caller starts a fresh renewal.
func (m *Manager) leave(key string, f *flight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[key] == f {
		delete(m.flights, key)
		m.group.Forget(key)
	}
}

func (m *Manager) ensureAccessToken(ctx context.Context) error {
	expiry, err := m.readExpiry(ctx, credstore.KeyAccessExpiry)
	if err != nil {
		m.metrics.check("access", outcomeFailed)
		return &RenewalError{Stage: StageExchange, Err: err}
	}
	if IsValid(expiry, m.clock.Now()) {
		m.metrics.check("access", outcomeCached)
		return nil
	}

	logging.Debug("Session", "Access credential missing or inside renewal leeway, renewing")

	if err := m.EnsureRefreshToken(ctx, false); err != nil {
		m.metrics.check("access", outcomeFailed)
		return &RenewalError{Stage: StageRefresh, Err: err}
	}

	if err := m.exchange(ctx); err != nil {
		m.metrics.check("access", outcomeFailed)
		logging.Warn("Session", "Access credential exchange failed: %v", err)
		return &RenewalError{Stage: StageExchange, Err: err}
	}

	m.metrics.check("access", outcomeRenewed)
	return nil
}

// exchangeResponse is the body of GET {base}/refresh.
type exchangeResponse struct {
	Token  string      `json:"token"`
	KeyID  string      `json:"key_id"`
	Expiry json.Number `json:"expiry"`
}

// exchange trades the stored refresh credential for an access credential
// and persists it.
func (m *Manager) exchange(ctx context.Context) error {
	refresh, err := loadCredential(ctx, m.store, credstore.KeyRefreshToken, credstore.KeyRefreshKeyID, credstore.KeyRefreshExpiry)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.refreshURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	refresh.SetAuthHeader(req)
	if keyID, ok := refresh.Extra(extraKeyID).(string); ok && keyID != "" {
		req.Header.Set(HeaderKeyID, keyID)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: refresh request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading refresh response: %w", ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		// Body may echo credential details; keep it out of the error.
		logging.Debug("Session", "Refresh failed: status=%d body=%s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: refresh returned status %d", ErrNetwork, resp.StatusCode)
	}

	var tokenResp exchangeResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("%w: malformed refresh response: %w", ErrNetwork, err)
	}

	expiry, ok := ParseExpiry(tokenResp.Expiry.String())
	if tokenResp.Token == "" || !ok {
		return fmt.Errorf("%w: refresh response is missing token or expiry", ErrNetwork)
	}
	if !IsValid(&expiry, m.clock.Now()) {
		return fmt.Errorf("%w: refresh returned a credential expiring at %d, inside the renewal leeway", ErrNetwork, expiry)
	}

	// The old expiry goes first and the new one is written last, so a partial
	// write never pairs a new token with a valid expiry.
	if err := m.store.Remove(ctx, credstore.KeyAccessExpiry); err != nil {
		return storeError("remove", credstore.KeyAccessExpiry, err)
	}
	writes := []struct{ key, value string }{
		{credstore.KeyAccessToken, tokenResp.Token},
		{credstore.KeyAccessKeyID, tokenResp.KeyID},
		{credstore.KeyAccessExpiry, FormatExpiry(expiry)},
	}
	for _, w := range writes {
		if err := m.store.Set(ctx, w.key, w.value); err != nil {
			return storeError("write", w.key, err)
		}
	}

	logging.Info("Session", "Access credential renewed (key_id=%s, expiry=%s)",
		tokenResp.KeyID, time.Unix(expiry, 0).UTC().Format(time.RFC3339))
	return nil
}

func (m *Manager) ensureRefreshToken(ctx context.Context, forceInteractive bool) error {
	expiry, err := m.readExpiry(ctx, credstore.KeyRefreshExpiry)
	if err != nil {
		m.metrics.check("refresh", outcomeFailed)
		return err
	}
	if !forceInteractive && IsValid(expiry, m.clock.Now()) {
		m.metrics.check("refresh", outcomeCached)
		return nil
	}

	logging.Info("Session", "Opening login page (clear_session=%t)", forceInteractive)

	handle, err := m.flow.Open(ctx, m.loginURL, FlowOptions{ClearSession: forceInteractive})
	if err != nil {
		m.metrics.check("refresh", outcomeFailed)
		m.metrics.login(loginUnavailable)
		return fmt.Errorf("%w: %w", ErrLoginSurfaceUnavailable, err)
	}

	if err := m.awaitLogin(ctx, handle); err != nil {
		m.metrics.check("refresh", outcomeFailed)
		return err
	}
	m.metrics.check("refresh", outcomeRenewed)
	return nil
}

// awaitLogin watches the login surface until the redirect arrives, the user
// exits, or ctx ends. Only the first matching redirect is acted upon.
func (m *Manager) awaitLogin(ctx context.Context, handle FlowHandle) error {
	navigations := handle.Navigations()
	exited := handle.Exited()

	for {
		select {
		case target, ok := <-navigations:
			if !ok {
				navigations = nil
				continue
			}
			if !strings.HasPrefix(target, m.redirectURL) {
				continue
			}

			err := m.completeLogin(ctx, target)
			closeFlow(handle)
			return err

		case <-exited:
			// The surface may exit after another process completed a login.
			expiry, err := m.readExpiry(ctx, credstore.KeyRefreshExpiry)
			if err != nil {
				m.metrics.login(loginStoreError)
				return err
			}
			if IsValid(expiry, m.clock.Now()) {
				m.metrics.login(loginSuccess)
				return nil
			}
			m.metrics.login(loginAbandoned)
			logging.Info("Session", "Login page closed before completing")
			return ErrLoginAbandoned

		case <-ctx.Done():
			closeFlow(handle)
			m.metrics.login(loginAbandoned)
			return fmt.Errorf("%w: %w", ErrLoginAbandoned, ctx.Err())
		}
	}
}

// completeLogin validates the redirect and persists the refresh credential.
func (m *Manager) completeLogin(ctx context.Context, target string) error {
	login, err := ParseRedirect(target)
	if err != nil {
		m.metrics.login(loginInvalid)
		logging.Warn("Session", "Rejected login redirect: %v", err)
		return err
	}

	// The old expiry goes first and the new one is written last, so a partial
	// write never reads as valid.
	if err := m.store.Remove(ctx, credstore.KeyRefreshExpiry); err != nil {
		m.metrics.login(loginStoreError)
		return storeError("remove", credstore.KeyRefreshExpiry, err)
	}
	writes := []struct{ key, value string }{
		{credstore.KeyRefreshToken, login.Token},
		{credstore.KeyRefreshKeyID, login.KeyID},
	}
	for _, w := range writes {
		if err := m.store.Set(ctx, w.key, w.value); err != nil {
			m.metrics.login(loginStoreError)
			return storeError("write", w.key, err)
		}
	}
	if m.identity != nil {
		if err := m.identity.SetUsername(ctx, login.Username); err != nil {
			m.metrics.login(loginStoreError)
			return storeError("write", credstore.KeyUsername, err)
		}
	}
	if err := m.store.Set(ctx, credstore.KeyRefreshExpiry, FormatExpiry(login.Expiry)); err != nil {
		m.metrics.login(loginStoreError)
		return storeError("write", credstore.KeyRefreshExpiry, err)
	}

	m.metrics.login(loginSuccess)
	logging.Info("Session", "Logged in as %s (key_id=%s, expiry=%s)",
		login.Username, login.KeyID, time.Unix(login.Expiry, 0).UTC().Format(time.RFC3339))
	return nil
}

// readExpiry waits for the store and returns the stored expiry for key, or
// nil when it is absent or unparseable.
func (m *Manager) readExpiry(ctx context.Context, key string) (*int64, error) {
	if err := m.store.Ready(ctx); err != nil {
		return nil, storeError("ready", key, err)
	}
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, storeError("read", key, err)
	}
	if !ok {
		return nil, nil
	}
	expiry, ok := ParseExpiry(raw)
	if !ok {
		logging.Warn("Session", "Ignoring malformed %s", key)
		return nil, nil
	}
	return &expiry, nil
}

func closeFlow(handle FlowHandle) {
	if err := handle.Close(); err != nil {
		logging.Debug("Session", "Closing login flow: %v", err)
	}
}

var _ Renewer = (*Manager)(nil)
