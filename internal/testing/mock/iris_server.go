package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPath is the mobile API prefix served by IrisServer.
const APIPath = "/api/v0/mobile"

// Incident mirrors the Iris incident payload.
type Incident struct {
	ID          int64                  `json:"id"`
	Active      bool                   `json:"active"`
	Owner       string                 `json:"owner"`
	Application string                 `json:"application"`
	Plan        string                 `json:"plan"`
	PlanID      int64                  `json:"plan_id"`
	CurrentStep int                    `json:"current_step"`
	Created     int64                  `json:"created"`
	Updated     int64                  `json:"updated"`
	Title       string                 `json:"title"`
	Context     map[string]interface{} `json:"context"`
}

// ClaimRequest records a claim received by the server.
type ClaimRequest struct {
	IncidentIDs []int64 `json:"incident_ids"`
	Owner       string  `json:"owner"`
}

// DeviceRegistration records a device registration received by the server.
type DeviceRegistration struct {
	RegistrationID string `json:"registration_id"`
	Platform       string `json:"platform"`
}

// IrisServerConfig configures the fake backend.
type IrisServerConfig struct {
	// Clock drives issued expiries. Defaults to RealClock.
	Clock Clock

	// AccessTokenLifetime is the lifetime of issued access credentials.
	// Defaults to one hour.
	AccessTokenLifetime time.Duration

	// RefreshToken, when set, is the only refresh credential /refresh accepts.
	RefreshToken string
}

// IrisServer is a fake Iris mobile API.
type IrisServer struct {
	*httptest.Server

	cfg   IrisServerConfig
	clock Clock

	mu        sync.Mutex
	incidents map[int64]Incident
	templates map[string]json.RawMessage
	requests  map[string]int
	issued    map[string]string // access token -> key id
	claims    []ClaimRequest
	devices   []DeviceRegistration
	nextToken int

	// RefreshStatus, when non-zero, is returned by /refresh instead of a credential.
	RefreshStatus int

	// RefreshExpiry, when non-zero, overrides the expiry of issued credentials.
	RefreshExpiry int64
}

// NewIrisServer starts a fake backend. Call Close when done.
func NewIrisServer(cfg IrisServerConfig) *IrisServer {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.AccessTokenLifetime == 0 {
		cfg.AccessTokenLifetime = time.Hour
	}

	s := &IrisServer{
		cfg:       cfg,
		clock:     cfg.Clock,
		incidents: make(map[int64]Incident),
		templates: make(map[string]json.RawMessage),
		requests:  make(map[string]int),
		issued:    make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+APIPath+"/refresh", s.handleRefresh)
	mux.HandleFunc("GET "+APIPath+"/incidents", s.authorized("incidents", s.handleIncidents))
	mux.HandleFunc("GET "+APIPath+"/incidents/{id}", s.authorized("incident", s.handleIncident))
	mux.HandleFunc("POST "+APIPath+"/incidents/claim", s.authorized("claim", s.handleClaim))
	mux.HandleFunc("POST "+APIPath+"/incidents/{id}", s.authorized("claim_by_id", s.handleClaimByID))
	mux.HandleFunc("GET "+APIPath+"/applications/{app}", s.authorized("template", s.handleTemplate))
	mux.HandleFunc("GET "+APIPath+"/graph", s.authorized("graph", s.handleGraph))
	mux.HandleFunc("POST "+APIPath+"/device", s.authorized("device", s.handleDevice))

	s.Server = httptest.NewServer(mux)
	return s
}

// APIBase returns the base URL including the mobile API path.
func (s *IrisServer) APIBase() string {
	return s.URL + APIPath
}

// AddIncident makes an incident available.
func (s *IrisServer) AddIncident(inc Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc
}

// SetTemplate sets the template returned for app.
func (s *IrisServer) SetTemplate(app string, tmpl json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[app] = tmpl
}

// AcceptAccessToken makes token/keyID valid for API calls without a refresh.
func (s *IrisServer) AcceptAccessToken(token, keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[token] = keyID
}

// Requests returns how many requests reached the named endpoint
// (refresh, incidents, incident, claim, claim_by_id, template, graph, device).
func (s *IrisServer) Requests(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint]
}

// Claims returns the claims received so far.
func (s *IrisServer) Claims() []ClaimRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClaimRequest(nil), s.claims...)
}

// Devices returns the device registrations received so far.
func (s *IrisServer) Devices() []DeviceRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceRegistration(nil), s.devices...)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *IrisServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests["refresh"]++

	if s.RefreshStatus != 0 {
		http.Error(w, "refresh failed", s.RefreshStatus)
		return
	}

	refresh := bearer(r)
	if refresh == "" || (s.cfg.RefreshToken != "" && refresh != s.cfg.RefreshToken) {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	s.nextToken++
	token := fmt.Sprintf("access-%d", s.nextToken)
	keyID := fmt.Sprintf("key-%d", s.nextToken)
	s.issued[token] = keyID

	expiry := s.clock.Now().Add(s.cfg.AccessTokenLifetime).Unix()
	if s.RefreshExpiry != 0 {
		expiry = s.RefreshExpiry
	}

	writeJSON(w, map[string]interface{}{
		"token":  token,
		"key_id": keyID,
		"expiry": expiry,
	})
}

func (s *IrisServer) authorized(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[endpoint]++
		keyID, ok := s.issued[bearer(r)]
		s.mu.Unlock()

		if !ok || r.Header.Get("X-Iris-Key-Id") != keyID {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *IrisServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := r.URL.Query().Get("active")
	var out []Incident
	for _, inc := range s.incidents {
		if active == "1" && !inc.Active {
			continue
		}
		if active == "0" && inc.Active {
			continue
		}
		if app := r.URL.Query().Get("application"); app != "" && inc.Application != app {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if out == nil {
		out = []Incident{}
	}
	writeJSON(w, out)
}

func (s *IrisServer) handleIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	inc, ok := s.incidents[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, inc)
}

func (s *IrisServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, req)
	for _, id := range req.IncidentIDs {
		if inc, ok := s.incidents[id]; ok {
			inc.Active = false
			inc.Owner = req.Owner
			s.incidents[id] = inc
		}
	}
	writeJSON(w, map[string]interface{}{"owner": req.Owner, "incident_ids": req.IncidentIDs})
}

func (s *IrisServer) handleClaimByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	inc.Active = false
	inc.Owner = body.Owner
	s.incidents[id] = inc
	s.claims = append(s.claims, ClaimRequest{IncidentIDs: []int64{id}, Owner: body.Owner})
	writeJSON(w, map[string]interface{}{"owner": body.Owner, "active": false})
}

func (s *IrisServer) handleTemplate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tmpl, ok := s.templates[r.PathValue("app")]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(tmpl)
}

func (s *IrisServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("graph_url")
	if source == "" {
		http.Error(w, "graph_url required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{
		"current":  "current:" + source,
		"original": "original:" + source,
	})
}

func (s *IrisServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	var reg DeviceRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.devices = append(s.devices, reg)
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
