// Package metrics provides Prometheus collectors for module loading and dissection.
//
// All observation methods are safe to call on a nil *Metrics, so components
// can be constructed without a collector in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dissect"

// Metrics holds the collectors shared by the loader, the engine and the session manager
type Metrics struct {
	ModulesLoaded  *prometheus.CounterVec
	LoadFailures   *prometheus.CounterVec
	Dissections    prometheus.Counter
	CacheEvictions prometheus.Counter
	SessionsActive prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ModulesLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modules_loaded_total",
			Help:      "Modules executed by the loader, by kind (file, json, native).",
		}, []string{"kind"}),
		LoadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Failed load requests, by stage (resolve, read, compile, execute, native).",
		}, []string{"stage"}),
		Dissections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dissections_total",
			Help:      "Source files rewritten into introspectable form.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Module records removed from the loader cache.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open dissection sessions.",
		}),
	}
}

func (m *Metrics) ObserveLoad(kind string) {
	if m == nil {
		return
	}
	m.ModulesLoaded.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFailure(stage string) {
	if m == nil {
		return
	}
	m.LoadFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveDissection() {
	if m == nil {
		return
	}
	m.Dissections.Inc()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
