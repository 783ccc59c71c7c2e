package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisctl/internal/credstore"
	"irisctl/internal/session"
	"irisctl/internal/testing/mock"
)

const (
	redirectURL  = "http://localhost:7000/"
	refreshToken = "refresh-token"
)

type usernames struct {
	mu    sync.Mutex
	names []string
}

func (u *usernames) SetUsername(_ context.Context, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, name)
	return nil
}

func (u *usernames) all() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.names...)
}

type fixture struct {
	ctx      context.Context
	clock    *mock.MockClock
	server   *mock.IrisServer
	store    *credstore.FileStore
	flow     *mock.LoginFlow
	identity *usernames
	registry *prometheus.Registry
	manager  *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	clock := mock.NewMockClock(time.Unix(1_700_000_000, 0))
	server := mock.NewIrisServer(mock.IrisServerConfig{Clock: clock, RefreshToken: refreshToken})
	t.Cleanup(server.Close)

	store := credstore.NewMemoryStore()
	require.NoError(t, store.Ready(ctx))

	f := &fixture{
		ctx:      ctx,
		clock:    clock,
		server:   server,
		store:    store,
		flow:     &mock.LoginFlow{},
		identity: &usernames{},
		registry: prometheus.NewRegistry(),
	}

	manager, err := session.NewManager(session.Config{
		Store:       store,
		LoginFlow:   f.flow,
		Identity:    f.identity,
		HTTPClient:  server.Client(),
		APIBase:     server.APIBase(),
		LoginURL:    server.URL + "/login",
		RedirectURL: redirectURL,
		Clock:       clock,
		Metrics:     session.NewMetrics(f.registry),
	})
	require.NoError(t, err)
	f.manager = manager
	return f
}

func (f *fixture) set(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, f.store.Set(f.ctx, key, value))
}

func (f *fixture) get(t *testing.T, key string) string {
	t.Helper()
	v, _, err := f.store.Get(f.ctx, key)
	require.NoError(t, err)
	return v
}

func (f *fixture) seedRefresh(t *testing.T, expiresIn time.Duration) {
	t.Helper()
	f.set(t, credstore.KeyRefreshToken, refreshToken)
	f.set(t, credstore.KeyRefreshKeyID, "rk-1")
	f.set(t, credstore.KeyRefreshExpiry, session.FormatExpiry(f.clock.Now().Add(expiresIn).Unix()))
}

func (f *fixture) seedAccess(t *testing.T, expiresIn time.Duration) {
	t.Helper()
	f.set(t, credstore.KeyAccessToken, "old-access")
	f.set(t, credstore.KeyAccessKeyID, "old-key")
	f.set(t, credstore.KeyAccessExpiry, session.FormatExpiry(f.clock.Now().Add(expiresIn).Unix()))
}

func (f *fixture) redirect(expiry int64, username string) string {
	return fmt.Sprintf("%s#token=%s&keyId=rk-9&expiry=%d&username=%s", redirectURL, refreshToken, expiry, username)
}

func TestNewManagerValidation(t *testing.T) {
	store := credstore.NewMemoryStore()
	flow := &mock.LoginFlow{}

	tests := []struct {
		name string
		cfg  session.Config
		want string
	}{
		{name: "no store", cfg: session.Config{LoginFlow: flow, APIBase: "http://x", RedirectURL: redirectURL}, want: "store"},
		{name: "no flow", cfg: session.Config{Store: store, APIBase: "http://x", RedirectURL: redirectURL}, want: "login flow"},
		{name: "no base", cfg: session.Config{Store: store, LoginFlow: flow, RedirectURL: redirectURL}, want: "API base"},
		{name: "no redirect", cfg: session.Config{Store: store, LoginFlow: flow, APIBase: "http://x"}, want: "redirect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.NewManager(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	renewer, err := session.New(session.Config{Debug: true})
	require.NoError(t, err)
	assert.IsType(t, session.Offline{}, renewer)

	f := newFixture(t)
	renewer, err = session.New(session.Config{
		Store:       f.store,
		LoginFlow:   f.flow,
		APIBase:     f.server.APIBase(),
		RedirectURL: redirectURL,
	})
	require.NoError(t, err)
	assert.IsType(t, &session.Manager{}, renewer)
}

func TestOfflineNeverRenews(t *testing.T) {
	var offline session.Offline
	ctx := context.Background()

	assert.NoError(t, offline.EnsureAccessToken(ctx))
	assert.NoError(t, offline.EnsureRefreshToken(ctx, false))
	assert.NoError(t, offline.EnsureRefreshToken(ctx, true))
}

func TestEnsureAccessTokenValidAccessIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedAccess(t, time.Hour)

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))

	assert.Empty(t, f.flow.Opens())
	assert.Zero(t, f.server.Requests("refresh"))
	assert.Equal(t, "old-access", f.get(t, credstore.KeyAccessToken))
}

func TestEnsureAccessTokenExchangesStaleAccess(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, 24*time.Hour)
	// Inside the renewal leeway.
	f.seedAccess(t, session.TokenRenewalLeeway-time.Second)

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))

	assert.Empty(t, f.flow.Opens())
	assert.Equal(t, 1, f.server.Requests("refresh"))
	assert.Equal(t, "access-1", f.get(t, credstore.KeyAccessToken))
	assert.Equal(t, "key-1", f.get(t, credstore.KeyAccessKeyID))
	assert.Equal(t, session.FormatExpiry(f.clock.Now().Add(time.Hour).Unix()), f.get(t, credstore.KeyAccessExpiry))

	// A second call is served from the store.
	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))
	assert.Equal(t, 1, f.server.Requests("refresh"))
}

func TestEnsureAccessTokenRenewsAfterClockAdvance(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, 24*time.Hour)

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))
	assert.Equal(t, 1, f.server.Requests("refresh"))

	f.clock.Advance(time.Hour - session.TokenRenewalLeeway + time.Second)

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))
	assert.Equal(t, 2, f.server.Requests("refresh"))
	assert.Equal(t, "access-2", f.get(t, credstore.KeyAccessToken))
}

func TestEnsureAccessTokenInteractiveLogin(t *testing.T) {
	f := newFixture(t)
	loginExpiry := f.clock.Now().Add(24 * time.Hour).Unix()

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		_ = h.Navigate("https://sso.example.com/authorize?step=2")
		_ = h.Navigate(f.redirect(loginExpiry, "alice"))
	}

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))

	opens := f.flow.Opens()
	require.Len(t, opens, 1)
	assert.Equal(t, f.server.URL+"/login", opens[0].URL)
	assert.False(t, opens[0].Options.ClearSession)

	assert.Equal(t, refreshToken, f.get(t, credstore.KeyRefreshToken))
	assert.Equal(t, "rk-9", f.get(t, credstore.KeyRefreshKeyID))
	assert.Equal(t, session.FormatExpiry(loginExpiry), f.get(t, credstore.KeyRefreshExpiry))
	assert.Equal(t, []string{"alice"}, f.identity.all())

	assert.Equal(t, 1, f.server.Requests("refresh"))
	assert.Equal(t, "access-1", f.get(t, credstore.KeyAccessToken))

	handles := f.flow.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, 1, handles[0].CloseCount())
}

func TestEnsureRefreshTokenOnlyFirstRedirectCounts(t *testing.T) {
	f := newFixture(t)
	first := f.clock.Now().Add(24 * time.Hour).Unix()

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		_ = h.Navigate(f.redirect(first, "alice"))
		_ = h.Navigate(f.redirect(first+60, "mallory"))
	}

	require.NoError(t, f.manager.EnsureRefreshToken(f.ctx, false))
	assert.Equal(t, session.FormatExpiry(first), f.get(t, credstore.KeyRefreshExpiry))
	assert.Equal(t, []string{"alice"}, f.identity.all())
}

func TestEnsureRefreshTokenValidIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, time.Hour)

	require.NoError(t, f.manager.EnsureRefreshToken(f.ctx, false))
	assert.Empty(t, f.flow.Opens())
}

func TestEnsureRefreshTokenForced(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, 24*time.Hour)
	newExpiry := f.clock.Now().Add(48 * time.Hour).Unix()

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		_ = h.Navigate(f.redirect(newExpiry, "bob"))
	}

	require.NoError(t, f.manager.EnsureRefreshToken(f.ctx, true))

	opens := f.flow.Opens()
	require.Len(t, opens, 1)
	assert.True(t, opens[0].Options.ClearSession)
	assert.Equal(t, session.FormatExpiry(newExpiry), f.get(t, credstore.KeyRefreshExpiry))
	assert.Equal(t, []string{"bob"}, f.identity.all())
}

func TestEnsureRefreshTokenAbandoned(t *testing.T) {
	f := newFixture(t)
	f.flow.OnOpen = func(h *mock.FlowHandle) { h.Exit() }

	err := f.manager.EnsureRefreshToken(f.ctx, false)
	require.ErrorIs(t, err, session.ErrLoginAbandoned)

	_, ok, err := f.store.Get(f.ctx, credstore.KeyRefreshExpiry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureRefreshTokenExitAfterExternalLogin(t *testing.T) {
	f := newFixture(t)
	f.flow.OnOpen = func(h *mock.FlowHandle) {
		// Another process completed the login while the page was open.
		expiry := f.clock.Now().Add(24 * time.Hour).Unix()
		_ = f.store.Set(f.ctx, credstore.KeyRefreshToken, refreshToken)
		_ = f.store.Set(f.ctx, credstore.KeyRefreshExpiry, session.FormatExpiry(expiry))
		h.Exit()
	}

	require.NoError(t, f.manager.EnsureRefreshToken(f.ctx, false))
}

func TestEnsureAccessTokenAbandonedReportsRefreshStage(t *testing.T) {
	f := newFixture(t)
	f.flow.OnOpen = func(h *mock.FlowHandle) { h.Exit() }

	err := f.manager.EnsureAccessToken(f.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrRefreshFailed)
	assert.ErrorIs(t, err, session.ErrLoginAbandoned)
	assert.True(t, session.IsLoginError(err))

	var renewal *session.RenewalError
	require.True(t, errors.As(err, &renewal))
	assert.Equal(t, session.StageRefresh, renewal.Stage)
	assert.Zero(t, f.server.Requests("refresh"))
}

func TestEnsureRefreshTokenSurfaceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.flow.OpenErr = errors.New("no display")

	err := f.manager.EnsureRefreshToken(f.ctx, false)
	require.ErrorIs(t, err, session.ErrLoginSurfaceUnavailable)
	assert.Contains(t, err.Error(), "no display")
}

func TestEnsureRefreshTokenInvalidRedirect(t *testing.T) {
	f := newFixture(t)
	f.flow.OnOpen = func(h *mock.FlowHandle) {
		_ = h.Navigate(redirectURL + "#token=abc&keyId=k1")
	}

	err := f.manager.EnsureRefreshToken(f.ctx, false)
	require.ErrorIs(t, err, session.ErrInvalidLoginResponse)

	_, ok, err := f.store.Get(f.ctx, credstore.KeyRefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.identity.all())
	assert.Equal(t, 1, f.flow.Handles()[0].CloseCount())
}

func TestEnsureRefreshTokenContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(f.ctx, 50*time.Millisecond)
	defer cancel()

	err := f.manager.EnsureRefreshToken(ctx, false)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		handles := f.flow.Handles()
		return len(handles) == 1 && handles[0].CloseCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEnsureAccessTokenCoalescesConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, 24*time.Hour)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.manager.EnsureAccessToken(f.ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.server.Requests("refresh"))
}

func TestEnsureRefreshTokenCoalescesConcurrentLogins(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	loginExpiry := f.clock.Now().Add(24 * time.Hour).Unix()

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		<-release
		_ = h.Navigate(f.redirect(loginExpiry, "alice"))
	}

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.manager.EnsureRefreshToken(f.ctx, false)
		}()
	}

	require.Eventually(t, func() bool { return len(f.flow.Opens()) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.flow.Opens(), 1)
	assert.Equal(t, []string{"alice"}, f.identity.all())
}

func TestEnsureRefreshTokenFollowerSurvivesLeaderCancel(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	loginExpiry := f.clock.Now().Add(24 * time.Hour).Unix()

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		<-release
		_ = h.Navigate(f.redirect(loginExpiry, "alice"))
	}

	leaderCtx, cancelLeader := context.WithCancel(f.ctx)
	defer cancelLeader()
	leaderErr := make(chan error, 1)
	go func() { leaderErr <- f.manager.EnsureRefreshToken(leaderCtx, false) }()
	require.Eventually(t, func() bool { return len(f.flow.Opens()) == 1 }, time.Second, 5*time.Millisecond)

	followerErr := make(chan error, 1)
	go func() { followerErr <- f.manager.EnsureRefreshToken(f.ctx, false) }()
	require.Eventually(t, func() bool { return f.manager.Waiters("refresh") == 2 }, time.Second, 5*time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.Equal(t, 0, f.flow.Handles()[0].CloseCount(), "login stays open while a caller waits")

	close(release)
	require.NoError(t, <-followerErr)
	assert.Len(t, f.flow.Opens(), 1)
	assert.Equal(t, []string{"alice"}, f.identity.all())
	assert.Equal(t, refreshToken, f.get(t, credstore.KeyRefreshToken))
}

func TestEnsureRefreshTokenRestartsAfterEveryCallerLeft(t *testing.T) {
	f := newFixture(t)
	loginExpiry := f.clock.Now().Add(24 * time.Hour).Unix()

	ctx, cancel := context.WithCancel(f.ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- f.manager.EnsureRefreshToken(ctx, false) }()
	require.Eventually(t, func() bool { return len(f.flow.Opens()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Eventually(t, func() bool { return f.flow.Handles()[0].CloseCount() == 1 }, time.Second, 5*time.Millisecond)

	f.flow.OnOpen = func(h *mock.FlowHandle) {
		_ = h.Navigate(f.redirect(loginExpiry, "bob"))
	}
	require.NoError(t, f.manager.EnsureRefreshToken(f.ctx, false))
	assert.Len(t, f.flow.Opens(), 2)
	assert.Equal(t, []string{"bob"}, f.identity.all())
	assert.Equal(t, 0, f.manager.Waiters("refresh"))
}

func TestEnsureAccessTokenExchangeFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		f := newFixture(t)
		f.seedRefresh(t, 24*time.Hour)
		f.server.RefreshStatus = 500

		err := f.manager.EnsureAccessToken(f.ctx)
		assert.ErrorIs(t, err, session.ErrExchangeFailed)
		assert.ErrorIs(t, err, session.ErrNetwork)

		_, ok, _ := f.store.Get(f.ctx, credstore.KeyAccessExpiry)
		assert.False(t, ok)
	})

	t.Run("rejected refresh credential", func(t *testing.T) {
		f := newFixture(t)
		f.seedRefresh(t, 24*time.Hour)
		f.set(t, credstore.KeyRefreshToken, "revoked")

		err := f.manager.EnsureAccessToken(f.ctx)
		assert.ErrorIs(t, err, session.ErrExchangeFailed)
		assert.ErrorIs(t, err, session.ErrNetwork)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("issued credential inside leeway", func(t *testing.T) {
		f := newFixture(t)
		f.seedRefresh(t, 24*time.Hour)
		f.server.RefreshExpiry = f.clock.Now().Add(time.Minute).Unix()

		err := f.manager.EnsureAccessToken(f.ctx)
		assert.ErrorIs(t, err, session.ErrNetwork)

		_, ok, _ := f.store.Get(f.ctx, credstore.KeyAccessToken)
		assert.False(t, ok)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		f := newFixture(t)
		f.seedRefresh(t, 24*time.Hour)
		f.server.Close()

		err := f.manager.EnsureAccessToken(f.ctx)
		assert.ErrorIs(t, err, session.ErrExchangeFailed)
		assert.ErrorIs(t, err, session.ErrNetwork)
	})
}

type brokenStore struct {
	credstore.Store
	readyErr error
	setErr   error

	// failKey limits setErr to writes of one key.
	failKey string
}

func (s *brokenStore) Ready(ctx context.Context) error {
	if s.readyErr != nil {
		return s.readyErr
	}
	return s.Store.Ready(ctx)
}

func (s *brokenStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil && (s.failKey == "" || s.failKey == key) {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

func TestStoreFailures(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		store := &brokenStore{Store: credstore.NewMemoryStore(), readyErr: errors.New("locked")}
		m, err := session.NewManager(session.Config{
			Store:       store,
			LoginFlow:   &mock.LoginFlow{},
			APIBase:     "http://127.0.0.1:1",
			RedirectURL: redirectURL,
		})
		require.NoError(t, err)

		err = m.EnsureAccessToken(context.Background())
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)
		assert.ErrorIs(t, err, session.ErrExchangeFailed)
	})

	t.Run("write fails during login", func(t *testing.T) {
		inner := credstore.NewMemoryStore()
		store := &brokenStore{Store: inner, setErr: errors.New("disk full")}
		clock := mock.NewMockClock(time.Unix(1_700_000_000, 0))
		flow := &mock.LoginFlow{OnOpen: func(h *mock.FlowHandle) {
			_ = h.Navigate(fmt.Sprintf("%s#token=t&keyId=k&expiry=%d&username=u", redirectURL, clock.Unix()+86400))
		}}
		m, err := session.NewManager(session.Config{
			Store:       store,
			LoginFlow:   flow,
			APIBase:     "http://127.0.0.1:1",
			RedirectURL: redirectURL,
			Clock:       clock,
		})
		require.NoError(t, err)

		err = m.EnsureRefreshToken(context.Background(), false)
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)

		_, ok, err := inner.Get(context.Background(), credstore.KeyRefreshExpiry)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.seedRefresh(t, 24*time.Hour)

	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))
	require.NoError(t, f.manager.EnsureAccessToken(f.ctx))

	expected := `
# HELP irisctl_session_credential_checks_total Credential checks by credential (access, refresh) and outcome (cached, renewed, failed).
# TYPE irisctl_session_credential_checks_total counter
irisctl_session_credential_checks_total{credential="access",outcome="cached"} 1
irisctl_session_credential_checks_total{credential="access",outcome="renewed"} 1
irisctl_session_credential_checks_total{credential="refresh",outcome="cached"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "irisctl_session_credential_checks_total"))
}

func TestMetricsLoginOutcomes(t *testing.T) {
	f := newFixture(t)
	f.flow.OnOpen = func(h *mock.FlowHandle) { h.Exit() }

	require.Error(t, f.manager.EnsureRefreshToken(f.ctx, false))

	expected := `
# HELP irisctl_session_login_flows_total Interactive login flows by outcome.
# TYPE irisctl_session_login_flows_total counter
irisctl_session_login_flows_total{outcome="abandoned"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "irisctl_session_login_flows_total"))

	t.Run("forced login with failed key id write", func(t *testing.T) {
		ctx := context.Background()
		inner := credstore.NewMemoryStore()
		require.NoError(t, inner.Ready(ctx))
		clock := mock.NewMockClock(time.Unix(1_700_000_000, 0))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshToken, "old-token"))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshKeyID, "old-key"))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshExpiry, session.FormatExpiry(clock.Unix()+86400)))

		store := &brokenStore{Store: inner, setErr: errors.New("disk full"), failKey: credstore.KeyRefreshKeyID}
		flow := &mock.LoginFlow{OnOpen: func(h *mock.FlowHandle) {
			_ = h.Navigate(fmt.Sprintf("%s#token=new-token&keyId=new-key&expiry=%d&username=u", redirectURL, clock.Unix()+2*86400))
		}}
		m, err := session.NewManager(session.Config{
			Store:       store,
			LoginFlow:   flow,
			APIBase:     "http://127.0.0.1:1",
			RedirectURL: redirectURL,
			Clock:       clock,
		})
		require.NoError(t, err)

		err = m.EnsureRefreshToken(ctx, true)
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)

		_, ok, err := inner.Get(ctx, credstore.KeyRefreshExpiry)
		require.NoError(t, err)
		assert.False(t, ok, "a half-written refresh credential must not keep a valid expiry")

		state, err := session.Inspect(ctx, inner, clock.Now())
		require.NoError(t, err)
		assert.False(t, state.Refresh.Valid)
	})

	t.Run("exchange with failed key id write", func(t *testing.T) {
		ctx := context.Background()
		clock := mock.NewMockClock(time.Unix(1_700_000_000, 0))
		server := mock.NewIrisServer(mock.IrisServerConfig{Clock: clock, RefreshToken: refreshToken})
		defer server.Close()

		inner := credstore.NewMemoryStore()
		require.NoError(t, inner.Ready(ctx))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshToken, refreshToken))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshKeyID, "rk-1"))
		require.NoError(t, inner.Set(ctx, credstore.KeyRefreshExpiry, session.FormatExpiry(clock.Unix()+86400)))
		require.NoError(t, inner.Set(ctx, credstore.KeyAccessExpiry, session.FormatExpiry(clock.Unix()+60)))

		store := &brokenStore{Store: inner, setErr: errors.New("disk full"), failKey: credstore.KeyAccessKeyID}
		m, err := session.NewManager(session.Config{
			Store:       store,
			LoginFlow:   &mock.LoginFlow{},
			HTTPClient:  server.Client(),
			APIBase:     server.APIBase(),
			RedirectURL: redirectURL,
			Clock:       clock,
		})
		require.NoError(t, err)

		err = m.EnsureAccessToken(ctx)
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)

		_, ok, err := inner.Get(ctx, credstore.KeyAccessExpiry)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
