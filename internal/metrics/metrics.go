// Package metrics exposes Prometheus instrumentation for the alert engine.
// A Set carries its own registry so tests can build isolated instances; a
// nil *Set is a valid no-op receiver, which keeps the engine free of nil
// checks at every observation site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "oriru_"

// Set bundles every metric the engine and API report.
type Set struct {
	registry *prometheus.Registry

	fires      *prometheus.CounterVec
	refires    prometheus.Counter
	expiries   prometheus.Counter
	dismissals *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	fallbacks  prometheus.Counter
	retries    prometheus.Counter

	armed        prometheus.Gauge
	tier         prometheus.Gauge
	passDuration prometheus.Histogram
}

// New builds a Set with a private registry, including the standard Go
// runtime and process collectors.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "fires_total",
			Help: "Alert fires by trigger mode",
		}, []string{"mode"}),
		refires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "refires_total",
			Help: "Snooze-driven repeat fires",
		}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "expiries_total",
			Help: "Time-mode alerts that lapsed unfired",
		}),
		dismissals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "dismissals_total",
			Help: "Session dismissals by cause",
		}, []string{"cause"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "dispatches_total",
			Help: "Notification dispatches by result",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "message_fallbacks_total",
			Help: "Message resolutions served from static persona templates",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "message_retries_total",
			Help: "Retried attempts against the remote message generator",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "armed_sessions",
			Help: "Sessions currently tracked by the engine",
		}),
		tier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "accuracy_tier",
			Help: "Current location accuracy tier (0 normal, 1 approaching, 2 near target)",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "pass_duration_seconds",
			Help:    "Wall time of one evaluation pass over the armed set",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		s.fires, s.refires, s.expiries, s.dismissals, s.dispatches,
		s.fallbacks, s.retries, s.armed, s.tier, s.passDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Handler serves the set's registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Set) Fire(mode string) {
	if s != nil {
		s.fires.WithLabelValues(mode).Inc()
	}
}

func (s *Set) Refire() {
	if s != nil {
		s.refires.Inc()
	}
}

func (s *Set) Expiry() {
	if s != nil {
		s.expiries.Inc()
	}
}

// Dismissal counts a session ending. Cause is one of "user", "ceiling",
// "expired", or "completed".
func (s *Set) Dismissal(cause string) {
	if s != nil {
		s.dismissals.WithLabelValues(cause).Inc()
	}
}

func (s *Set) Dispatch(result string) {
	if s != nil {
		s.dispatches.WithLabelValues(result).Inc()
	}
}

func (s *Set) Fallback() {
	if s != nil {
		s.fallbacks.Inc()
	}
}

func (s *Set) Retry() {
	if s != nil {
		s.retries.Inc()
	}
}

func (s *Set) SetArmed(n int) {
	if s != nil {
		s.armed.Set(float64(n))
	}
}

func (s *Set) SetTier(t int) {
	if s != nil {
		s.tier.Set(float64(t))
	}
}

func (s *Set) ObservePass(d time.Duration) {
	if s != nil {
		s.passDuration.Observe(d.Seconds())
	}
}
