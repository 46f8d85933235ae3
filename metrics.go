package goSession

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginInvalidCredentials
	MetricLoginIncomplete
	MetricLoginLockedOut
	MetricLoginDenied
	MetricLoginSecondFactorFailure
	MetricLoginInfrastructureError
	MetricSessionCreated
	MetricSessionResumed
	MetricSessionExpired
	MetricSessionEvicted
	MetricLogout
	MetricCSRFRejected
	MetricLockoutTriggered
	MetricDurableWrite
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// metricLabel maps each counter onto its Prometheus family and label value.
var metricLabel = [metricIDCount]struct {
	family string
	label  string
}{
	MetricLoginSuccess:             {"login", "success"},
	MetricLoginInvalidCredentials:  {"login", "invalid_credentials"},
	MetricLoginIncomplete:          {"login", "incomplete_credentials"},
	MetricLoginLockedOut:           {"login", "security_lockout"},
	MetricLoginDenied:              {"login", "authentication_denied"},
	MetricLoginSecondFactorFailure: {"login", "second_factor_failure"},
	MetricLoginInfrastructureError: {"login", "infrastructure_error"},
	MetricSessionCreated:           {"session", "created"},
	MetricSessionResumed:           {"session", "resumed"},
	MetricSessionExpired:           {"session", "expired"},
	MetricSessionEvicted:           {"session", "evicted"},
	MetricLogout:                   {"session", "logout"},
	MetricCSRFRejected:             {"csrf", ""},
	MetricLockoutTriggered:         {"lockout", ""},
	MetricDurableWrite:             {"durable", ""},
}

// Metrics holds lock-free engine counters and exposes them as a Prometheus
// collector. A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter

	dropped func() uint64

	login     *prometheus.Desc
	session   *prometheus.Desc
	csrf      *prometheus.Desc
	lockouts  *prometheus.Desc
	durable   *prometheus.Desc
	auditDrop *prometheus.Desc
}

// NewMetrics creates the engine counters.
func NewMetrics(cfg MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "gosession"
	}

	return &Metrics{
		enabled: cfg.Enabled,
		login: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "login_total"),
			"Login attempts by result.", []string{"result"}, nil),
		session: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "session_total"),
			"Session lifecycle operations.", []string{"op"}, nil),
		csrf: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "csrf_rejections_total"),
			"Requests rejected by the CSRF gate.", nil, nil),
		lockouts: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "lockouts_total"),
			"Failed logins that put an identity into lockout.", nil, nil),
		durable: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "durable_writes_total"),
			"Session touches that wrote the durable row.", nil, nil),
		auditDrop: prometheus.NewDesc(prometheus.BuildFQName(ns, "", "audit_dropped_total"),
			"Dropped audit events due to dispatcher backpressure.", nil, nil),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns every counter.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	out := make(map[MetricID]uint64, int(metricIDCount))
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return out
}

// Describe implements [prometheus.Collector].
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.login
	ch <- m.session
	ch <- m.csrf
	ch <- m.lockouts
	ch <- m.durable
	ch <- m.auditDrop
}

// Collect implements [prometheus.Collector].
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for id := MetricID(0); id < metricIDCount; id++ {
		v := float64(m.Value(id))
		l := metricLabel[id]
		switch l.family {
		case "login":
			ch <- prometheus.MustNewConstMetric(m.login, prometheus.CounterValue, v, l.label)
		case "session":
			ch <- prometheus.MustNewConstMetric(m.session, prometheus.CounterValue, v, l.label)
		case "csrf":
			ch <- prometheus.MustNewConstMetric(m.csrf, prometheus.CounterValue, v)
		case "lockout":
			ch <- prometheus.MustNewConstMetric(m.lockouts, prometheus.CounterValue, v)
		case "durable":
			ch <- prometheus.MustNewConstMetric(m.durable, prometheus.CounterValue, v)
		}
	}

	var dropped uint64
	if m.dropped != nil {
		dropped = m.dropped()
	}
	ch <- prometheus.MustNewConstMetric(m.auditDrop, prometheus.CounterValue, float64(dropped))
}
