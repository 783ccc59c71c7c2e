package iris

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"irisctl/internal/credstore"
	"irisctl/internal/session"
	"irisctl/pkg/logging"
)

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps a decoded response body.
const maxResponseSize = 10 << 20

// UsernameSource supplies the owner recorded on claims.
type UsernameSource interface {
	Username(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	// APIBase is {baseURL}{apiPath}.
	APIBase string

	// Renewer is consulted before every request.
	Renewer session.Renewer

	// Store holds the access credential attached to requests.
	Store credstore.Store

	// Identity names the claiming user.
	Identity UsernameSource

	// HTTPClient is the base client; its transport is wrapped to add
	// credentials. Defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

// Client talks to the Iris mobile API.
type Client struct {
	base       string
	renewer    session.Renewer
	identity   UsernameSource
	httpClient *http.Client

	mu        sync.RWMutex
	incidents map[int64]*Incident
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIBase == "" {
		return nil, errors.New("iris: API base URL is required")
	}
	if cfg.Renewer == nil {
		return nil, errors.New("iris: renewer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("iris: credential store is required")
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: DefaultTimeout}
	}
	httpClient := *base
	httpClient.Transport = &authTransport{store: cfg.Store, base: base.Transport}

	return &Client{
		base:       strings.TrimSuffix(cfg.APIBase, "/"),
		renewer:    cfg.Renewer,
		identity:   cfg.Identity,
		httpClient: &httpClient,
		incidents:  make(map[int64]*Incident),
	}, nil
}

// GetIncidents lists incidents matching filters and caches them.
func (c *Client) GetIncidents(ctx context.Context, filters Filters) ([]*Incident, error) {
	var incidents []*Incident
	if err := c.do(ctx, http.MethodGet, "/incidents", filters.Values(), nil, &incidents); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, inc := range incidents {
		inc.fillTitle()
		c.incidents[inc.ID] = inc
	}
	c.mu.Unlock()

	logging.Debug("Iris", "Fetched %d incidents", len(incidents))
	return incidents, nil
}

// GetIncident returns incident id, from the cache when present.
func (c *Client) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	if inc, ok := c.Cached(id); ok {
		return inc, nil
	}

	var inc Incident
	if err := c.do(ctx, http.MethodGet, "/incidents/"+strconv.FormatInt(id, 10), nil, nil, &inc); err != nil {
		return nil, err
	}
	inc.fillTitle()

	c.mu.Lock()
	c.incidents[inc.ID] = &inc
	c.mu.Unlock()
	return &inc, nil
}

// Cached returns a cached incident.
func (c *Client) Cached(id int64) (*Incident, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inc, ok := c.incidents[id]
	return inc, ok
}

// ClearIncidents empties the incident cache.
func (c *Client) ClearIncidents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = make(map[int64]*Incident)
}

type claimRequest struct {
	IncidentIDs []int64 `json:"incident_ids"`
	Owner       string  `json:"owner"`
}

// Claim claims incidents for the current user. On success each incident is
// marked inactive and owned by the user. An empty list succeeds without any
// session check or request.
func (c *Client) Claim(ctx context.Context, incidents []*Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	owner, err := c.username(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, len(incidents))
	for i, inc := range incidents {
		ids[i] = inc.ID
	}

	if err := c.do(ctx, http.MethodPost, "/incidents/claim", nil, claimRequest{IncidentIDs: ids, Owner: owner}, nil); err != nil {
		return err
	}

	c.mu.Lock()
	for _, inc := range incidents {
		inc.Active = false
		inc.Owner = owner
	}
	c.mu.Unlock()

	logging.Info("Iris", "Claimed %d incidents as %s", len(ids), owner)
	return nil
}

// ClaimByID claims a single incident by id.
func (c *Client) ClaimByID(ctx context.Context, id int64) error {
	owner, err := c.username(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"owner": owner}
	if err := c.do(ctx, http.MethodPost, "/incidents/"+strconv.FormatInt(id, 10), nil, body, nil); err != nil {
		return err
	}
	logging.Info("Iris", "Claimed incident %d as %s", id, owner)
	return nil
}

// GetTemplate returns the mobile template for app.
func (c *Client) GetTemplate(ctx context.Context, app string) (json.RawMessage, error) {
	var tmpl json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/applications/"+url.PathEscape(app), nil, nil, &tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// GetGraph returns the current and original graphs for source.
func (c *Client) GetGraph(ctx context.Context, source string) (*GraphData, error) {
	var graph GraphData
	query := url.Values{"graph_url": []string{source}}
	if err := c.do(ctx, http.MethodGet, "/graph", query, nil, &graph); err != nil {
		return nil, err
	}
	return &graph, nil
}

type deviceRequest struct {
	RegistrationID string `json:"registration_id"`
	Platform       string `json:"platform"`
}

// Register registers a device for push notifications.
func (c *Client) Register(ctx context.Context, regID, platform string) error {
	return c.do(ctx, http.MethodPost, "/device", nil, deviceRequest{RegistrationID: regID, Platform: platform}, nil)
}

func (c *Client) username(ctx context.Context) (string, error) {
	if c.identity == nil {
		return "", nil
	}
	name, err := c.identity.Username(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving claim owner: %w", err)
	}
	return name, nil
}

// do ensures an access credential, then performs one request. in is
// encoded as JSON when non-nil; out is decoded from the response when
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if err := c.renewer.EnsureAccessToken(ctx); err != nil {
		return err
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("creating %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", session.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
