package iris

import (
	"net/url"
	"sort"
)

// Incident is an Iris incident as returned by the mobile API.
type Incident struct {
	ID          int64                  `json:"id" yaml:"id"`
	Active      bool                   `json:"active" yaml:"active"`
	Owner       string                 `json:"owner" yaml:"owner"`
	Application string                 `json:"application" yaml:"application"`
	Plan        string                 `json:"plan" yaml:"plan"`
	PlanID      int64                  `json:"plan_id" yaml:"plan_id"`
	CurrentStep int                    `json:"current_step" yaml:"current_step"`
	Created     int64                  `json:"created" yaml:"created"`
	Updated     int64                  `json:"updated" yaml:"updated"`
	Title       string                 `json:"title" yaml:"title"`
	Context     map[string]interface{} `json:"context" yaml:"context"`
}

// fillTitle falls back to context["name"] for incidents without a title.
func (i *Incident) fillTitle() {
	if i.Title != "" {
		return
	}
	if name, ok := i.Context["name"].(string); ok {
		i.Title = name
	}
}

// GraphData holds the rendered graphs for a source.
type GraphData struct {
	Current  string `json:"current" yaml:"current"`
	Original string `json:"original" yaml:"original"`
}

// Filters select which incidents GetIncidents returns.
type Filters struct {
	// Active includes active incidents.
	Active bool

	// Inactive includes inactive incidents.
	Inactive bool

	// QueryParams are passed to the API verbatim.
	QueryParams map[string]string
}

// Clone returns a deep copy of f.
func (f Filters) Clone() Filters {
	out := Filters{Active: f.Active, Inactive: f.Inactive}
	if f.QueryParams != nil {
		out.QueryParams = make(map[string]string, len(f.QueryParams))
		for k, v := range f.QueryParams {
			out.QueryParams[k] = v
		}
	}
	return out
}

// Values returns the query string for f. Without Active only inactive
// incidents are requested; with Active but not Inactive only active ones;
// with both the active parameter is omitted. The active parameter overrides
// a query parameter of the same name.
func (f Filters) Values() url.Values {
	values := url.Values{}

	keys := make([]string, 0, len(f.QueryParams))
	for k := range f.QueryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values.Set(k, f.QueryParams[k])
	}

	switch {
	case !f.Active:
		values.Set("active", "0")
	case !f.Inactive:
		values.Set("active", "1")
	}
	return values
}
