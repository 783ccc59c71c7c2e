package iris

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisctl/internal/credstore"
	"irisctl/internal/identity"
	"irisctl/internal/session"
	"irisctl/internal/testing/mock"
)

// countingRenewer records EnsureAccessToken calls.
type countingRenewer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRenewer) EnsureAccessToken(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingRenewer) EnsureRefreshToken(context.Context, bool) error { return nil }

func (r *countingRenewer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	ctx     context.Context
	server  *mock.IrisServer
	store   *credstore.FileStore
	renewer *countingRenewer
	client  *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	server := mock.NewIrisServer(mock.IrisServerConfig{})
	t.Cleanup(server.Close)
	server.AcceptAccessToken("access-token", "access-key")

	store := credstore.NewMemoryStore()
	require.NoError(t, store.Ready(ctx))
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "access-token"))
	require.NoError(t, store.Set(ctx, credstore.KeyAccessKeyID, "access-key"))

	profile := identity.NewProfile(store)
	require.NoError(t, profile.SetUsername(ctx, "alice"))

	renewer := &countingRenewer{}
	client, err := NewClient(Config{
		APIBase:    server.APIBase(),
		Renewer:    renewer,
		Store:      store,
		Identity:   profile,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	return &fixture{ctx: ctx, server: server, store: store, renewer: renewer, client: client}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Renewer: session.Offline{}, Store: credstore.NewMemoryStore()})
	assert.ErrorContains(t, err, "API base")
	_, err = NewClient(Config{APIBase: "http://x", Store: credstore.NewMemoryStore()})
	assert.ErrorContains(t, err, "renewer")
	_, err = NewClient(Config{APIBase: "http://x", Renewer: session.Offline{}})
	assert.ErrorContains(t, err, "store")
}

func TestFiltersValues(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		want    string
	}{
		{name: "neither", filters: Filters{}, want: "active=0"},
		{name: "inactive only", filters: Filters{Inactive: true}, want: "active=0"},
		{name: "active only", filters: Filters{Active: true}, want: "active=1"},
		{name: "both", filters: Filters{Active: true, Inactive: true}, want: ""},
		{
			name:    "query params pass through",
			filters: Filters{Active: true, Inactive: true, QueryParams: map[string]string{"target": "team a", "limit": "10"}},
			want:    "limit=10&target=team+a",
		},
		{
			name:    "active flag overrides query param",
			filters: Filters{Active: true, QueryParams: map[string]string{"active": "x"}},
			want:    "active=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Values().Encode())
		})
	}
}

func TestFiltersClone(t *testing.T) {
	orig := Filters{Active: true, QueryParams: map[string]string{"a": "1"}}
	clone := orig.Clone()
	clone.QueryParams["a"] = "2"
	clone.Active = false

	assert.Equal(t, "1", orig.QueryParams["a"])
	assert.True(t, orig.Active)
	assert.Nil(t, Filters{}.Clone().QueryParams)
}

func TestGetIncidents(t *testing.T) {
	f := newFixture(t)
	f.server.AddIncident(mock.Incident{ID: 1, Active: true, Title: "disk full", Application: "grafana"})
	f.server.AddIncident(mock.Incident{ID: 2, Active: true, Context: map[string]interface{}{"name": "cpu high"}})
	f.server.AddIncident(mock.Incident{ID: 3, Active: false, Title: "old"})

	incidents, err := f.client.GetIncidents(f.ctx, Filters{Active: true})
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "disk full", incidents[0].Title)
	assert.Equal(t, "cpu high", incidents[1].Title, "title falls back to context name")
	assert.Equal(t, 1, f.renewer.count())

	_, ok := f.client.Cached(2)
	assert.True(t, ok)
	_, ok = f.client.Cached(3)
	assert.False(t, ok)

	all, err := f.client.GetIncidents(f.ctx, Filters{Active: true, Inactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byApp, err := f.client.GetIncidents(f.ctx, Filters{Active: true, Inactive: true, QueryParams: map[string]string{"application": "grafana"}})
	require.NoError(t, err)
	require.Len(t, byApp, 1)
	assert.Equal(t, int64(1), byApp[0].ID)
}

func TestGetIncidentUsesCache(t *testing.T) {
	f := newFixture(t)
	f.server.AddIncident(mock.Incident{ID: 7, Active: true, Context: map[string]interface{}{"name": "from context"}})

	inc, err := f.client.GetIncident(f.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "from context", inc.Title)
	assert.Equal(t, 1, f.server.Requests("incident"))
	assert.Equal(t, 1, f.renewer.count())

	again, err := f.client.GetIncident(f.ctx, 7)
	require.NoError(t, err)
	assert.Same(t, inc, again)
	assert.Equal(t, 1, f.server.Requests("incident"), "cached id issues no request")
	assert.Equal(t, 1, f.renewer.count(), "cached id skips the session check")

	f.client.ClearIncidents()
	_, err = f.client.GetIncident(f.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, f.server.Requests("incident"))
}

func TestGetIncidentNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetIncident(f.ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "/incidents/404", apiErr.Path)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	f.server.AddIncident(mock.Incident{ID: 1, Active: true})
	f.server.AddIncident(mock.Incident{ID: 2, Active: true})

	incidents, err := f.client.GetIncidents(f.ctx, Filters{Active: true})
	require.NoError(t, err)

	require.NoError(t, f.client.Claim(f.ctx, incidents))

	assert.Equal(t, []mock.ClaimRequest{{IncidentIDs: []int64{1, 2}, Owner: "alice"}}, f.server.Claims())
	for _, inc := range incidents {
		assert.False(t, inc.Active)
		assert.Equal(t, "alice", inc.Owner)
	}
	cached, _ := f.client.Cached(1)
	assert.Equal(t, "alice", cached.Owner)
}

func TestClaimEmptyIsImmediate(t *testing.T) {
	f := newFixture(t)
	f.renewer.err = errors.New("must not be called")

	require.NoError(t, f.client.Claim(f.ctx, nil))
	require.NoError(t, f.client.Claim(f.ctx, []*Incident{}))

	assert.Zero(t, f.renewer.count())
	assert.Zero(t, f.server.Requests("claim"))
}

func TestClaimFailureLeavesIncidentsUntouched(t *testing.T) {
	f := newFixture(t)
	inc := &Incident{ID: 99, Active: true}
	f.renewer.err = &session.RenewalError{Stage: session.StageRefresh, Err: session.ErrLoginAbandoned}

	err := f.client.Claim(f.ctx, []*Incident{inc})
	require.ErrorIs(t, err, session.ErrLoginAbandoned)
	assert.True(t, inc.Active)
	assert.Zero(t, f.server.Requests("claim"))
}

func TestClaimByID(t *testing.T) {
	f := newFixture(t)
	f.server.AddIncident(mock.Incident{ID: 5, Active: true})

	require.NoError(t, f.client.ClaimByID(f.ctx, 5))
	assert.Equal(t, []mock.ClaimRequest{{IncidentIDs: []int64{5}, Owner: "alice"}}, f.server.Claims())
	assert.Equal(t, 1, f.renewer.count())
}

func TestGetTemplate(t *testing.T) {
	f := newFixture(t)
	f.server.SetTemplate("grafana", json.RawMessage(`{"summary":"{{title}}"}`))

	tmpl, err := f.client.GetTemplate(f.ctx, "grafana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"{{title}}"}`, string(tmpl))

	_, err = f.client.GetTemplate(f.ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t)

	graph, err := f.client.GetGraph(f.ctx, "https://graphs.example.com/render?target=a&b=c")
	require.NoError(t, err)
	assert.Equal(t, "current:https://graphs.example.com/render?target=a&b=c", graph.Current)
	assert.Equal(t, "original:https://graphs.example.com/render?target=a&b=c", graph.Original)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.Register(f.ctx, "reg-1", "ios"))
	assert.Equal(t, []mock.DeviceRegistration{{RegistrationID: "reg-1", Platform: "ios"}}, f.server.Devices())
}

func TestRenewalFailureSkipsRequest(t *testing.T) {
	f := newFixture(t)
	f.renewer.err = &session.RenewalError{Stage: session.StageExchange, Err: session.ErrNetwork}

	_, err := f.client.GetIncidents(f.ctx, Filters{})
	require.ErrorIs(t, err, session.ErrExchangeFailed)
	assert.Zero(t, f.server.Requests("incidents"))

	err = f.client.Register(f.ctx, "reg", "android")
	require.ErrorIs(t, err, session.ErrNetwork)
	assert.Zero(t, f.server.Requests("device"))
}

func TestRejectedCredential(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(f.ctx, credstore.KeyAccessToken, "forged"))

	_, err := f.client.GetIncidents(f.ctx, Filters{})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "401")
}

func TestNoStoredCredential(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Remove(f.ctx, credstore.KeyAccessToken))

	_, err := f.client.GetIncidents(f.ctx, Filters{})
	require.ErrorIs(t, err, session.ErrNoAccessToken)
	assert.Zero(t, f.server.Requests("incidents"))
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	server := mock.NewIrisServer(mock.IrisServerConfig{})
	defer server.Close()

	store := credstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Ready(ctx))
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "tok"))
	require.NoError(t, store.Set(ctx, credstore.KeyAccessKeyID, "kid"))

	capture := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r.Header.Clone()
		return http.DefaultTransport.RoundTrip(r)
	})
	client, err := NewClient(Config{
		APIBase:    server.APIBase(),
		Renewer:    session.Offline{},
		Store:      store,
		HTTPClient: &http.Client{Transport: capture, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)

	_, _ = client.GetGraph(ctx, "src")

	require.NotNil(t, got)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "kid", got.Get(session.HeaderKeyID))
	_, err = uuid.Parse(got.Get(HeaderRequestID))
	assert.NoError(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestWithSessionManager runs an operation against a real session manager
// whose access credential is stale, so the request uses a freshly exchanged
// credential.
func TestWithSessionManager(t *testing.T) {
	ctx := context.Background()
	clock := mock.NewMockClock(time.Unix(1_700_000_000, 0))
	server := mock.NewIrisServer(mock.IrisServerConfig{Clock: clock, RefreshToken: "refresh"})
	defer server.Close()
	server.AddIncident(mock.Incident{ID: 1, Active: true, Title: "t"})

	store := credstore.NewMemoryStore()
	require.NoError(t, store.Ready(ctx))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshToken, "refresh"))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshKeyID, "rk"))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshExpiry, session.FormatExpiry(clock.Unix()+86400)))

	manager, err := session.NewManager(session.Config{
		Store:       store,
		LoginFlow:   &mock.LoginFlow{OpenErr: errors.New("no login expected")},
		HTTPClient:  server.Client(),
		APIBase:     server.APIBase(),
		RedirectURL: "http://localhost:7000/",
		Clock:       clock,
	})
	require.NoError(t, err)

	client, err := NewClient(Config{APIBase: server.APIBase(), Renewer: manager, Store: store, HTTPClient: server.Client()})
	require.NoError(t, err)

	incidents, err := client.GetIncidents(ctx, Filters{Active: true})
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
	assert.Equal(t, 1, server.Requests("refresh"))
}
