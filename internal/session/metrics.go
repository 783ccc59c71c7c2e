package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	outcomeCached  = "cached"
	outcomeRenewed = "renewed"
	outcomeFailed  = "failed"

	loginSuccess     = "success"
	loginInvalid     = "invalid_response"
	loginAbandoned   = "abandoned"
	loginUnavailable = "unavailable"
	loginStoreError  = "store_error"
)

// Metrics counts session activity. A nil *Metrics records nothing.
type Metrics struct {
	checks *prometheus.CounterVec
	logins *prometheus.CounterVec
}

// NewMetrics creates the session counters and registers them with reg.
// A nil reg leaves the counters unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irisctl",
			Subsystem: "session",
			Name:      "credential_checks_total",
			Help:      "Credential checks by credential (access, refresh) and outcome (cached, renewed, failed).",
		}, []string{"credential", "outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irisctl",
			Subsystem: "session",
			Name:      "login_flows_total",
			Help:      "Interactive login flows by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.checks, m.logins)
	}
	return m
}

func (m *Metrics) check(credential, outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(credential, outcome).Inc()
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}
