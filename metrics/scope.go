// Package metrics provides the Scope abstraction the engine's components
// use to report counters, gauges, and timings, prefixed by a dotted
// namespace. Backed by Prometheus, with a no-op implementation for
// embedding hosts and tests that don't care about metrics.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a stats collector that prefixes the name of every stat it
// collects with its namespace.
type Scope interface {
	NewScope(scopes ...string) Scope

	Inc(stat string, value int64) error
	Gauge(stat string, value int64) error
	GaugeDelta(stat string, value int64) error
	Timing(stat string, delta int64) error
	TimingDuration(stat string, delta time.Duration) error
	SetInt(stat string, value int64) error

	MustRegister(...prometheus.Collector)
}

// autoRegisterer lazily creates and registers Prometheus collectors the
// first time a given stat name is used, so callers never need an upfront
// declaration block the way raw promauto requires.
type autoRegisterer struct {
	mu        sync.Mutex
	reg       prometheus.Registerer
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	summaries map[string]*prometheus.SummaryVec
}

func newAutoRegisterer(reg prometheus.Registerer) *autoRegisterer {
	return &autoRegisterer{
		reg:       reg,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
		summaries: make(map[string]*prometheus.SummaryVec),
	}
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (a *autoRegisterer) autoCounter(name string) prometheus.Counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := sanitize(name)
	cv, ok := a.counters[key]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: key, Help: name}, nil)
		a.reg.MustRegister(cv)
		a.counters[key] = cv
	}
	return cv.WithLabelValues()
}

func (a *autoRegisterer) autoGauge(name string) prometheus.Gauge {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := sanitize(name)
	gv, ok := a.gauges[key]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: key, Help: name}, nil)
		a.reg.MustRegister(gv)
		a.gauges[key] = gv
	}
	return gv.WithLabelValues()
}

func (a *autoRegisterer) autoSummary(name string) prometheus.Observer {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := sanitize(name)
	sv, ok := a.summaries[key]
	if !ok {
		sv = prometheus.NewSummaryVec(prometheus.SummaryOpts{Name: key, Help: name}, nil)
		a.reg.MustRegister(sv)
		a.summaries[key] = sv
	}
	return sv.WithLabelValues()
}

// promScope is a Scope that sends data to Prometheus.
type promScope struct {
	prometheus.Registerer
	*autoRegisterer
	prefix string
}

var _ Scope = &promScope{}

// NewPromScope returns a Scope that sends data to Prometheus.
func NewPromScope(registerer prometheus.Registerer, scopes ...string) Scope {
	return &promScope{
		Registerer:     registerer,
		prefix:         strings.Join(scopes, ".") + ".",
		autoRegisterer: newAutoRegisterer(registerer),
	}
}

// NewScope generates a new Scope prefixed by this Scope's prefix plus the
// prefixes given, joined by periods.
func (s *promScope) NewScope(scopes ...string) Scope {
	scope := strings.Join(scopes, ".")
	return NewPromScope(s.Registerer, s.prefix+scope)
}

func (s *promScope) Inc(stat string, value int64) error {
	s.autoCounter(s.prefix + stat).Add(float64(value))
	return nil
}

func (s *promScope) Gauge(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Set(float64(value))
	return nil
}

func (s *promScope) GaugeDelta(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Add(float64(value))
	return nil
}

func (s *promScope) Timing(stat string, delta int64) error {
	s.autoSummary(s.prefix + stat + "_seconds").Observe(float64(delta))
	return nil
}

func (s *promScope) TimingDuration(stat string, delta time.Duration) error {
	s.autoSummary(s.prefix + stat + "_seconds").Observe(delta.Seconds())
	return nil
}

func (s *promScope) SetInt(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Set(float64(value))
	return nil
}

type noopScope struct{}

// NewNoopScope returns a Scope that won't collect anything, the default for
// embedding hosts that don't pass in a Prometheus registerer.
func NewNoopScope() Scope {
	return noopScope{}
}
func (ns noopScope) NewScope(scopes ...string) Scope {
	return ns
}
func (noopScope) Inc(stat string, value int64) error             { return nil }
func (noopScope) Gauge(stat string, value int64) error           { return nil }
func (noopScope) GaugeDelta(stat string, value int64) error      { return nil }
func (noopScope) Timing(stat string, delta int64) error          { return nil }
func (noopScope) TimingDuration(stat string, delta time.Duration) error { return nil }
func (noopScope) SetInt(stat string, value int64) error          { return nil }
func (noopScope) MustRegister(...prometheus.Collector)           {}
