// Package metrics exposes live-activity counters in Prometheus format.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveactivity"

// Metrics holds the scrape registry and every collector the service updates.
type Metrics struct {
	prom *prometheus.Registry

	transitions *prometheus.CounterVec
	active      prometheus.Gauge
	renders     *prometheus.CounterVec
	renderTime  *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	deduped     *prometheus.CounterVec
	cleanups    *prometheus.CounterVec
}

// New builds a registry with the Go and process collectors plus the
// live-activity collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	m := &Metrics{
		prom: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Live activity lifecycle transitions by kind.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "1 while a live activity is active.",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Backend render calls by backend, method and result.",
		}, []string{"backend", "method", "result"}),
		renderTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Backend render call latency.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 4, 8},
		}, []string{"backend", "method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_retries_total",
			Help:      "Render attempts beyond the first.",
		}, []string{"backend"}),
		deduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_deduped_total",
			Help:      "Progress renders suppressed as duplicates.",
		}, []string{"backend"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Delayed notification cleanups by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.active, m.renders, m.renderTime, m.retries, m.deduped, m.cleanups} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.prom, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.prom }

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}

func (m *Metrics) Render(backend, method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.renders.WithLabelValues(backend, method, result).Inc()
	m.renderTime.WithLabelValues(backend, method).Observe(d.Seconds())
}

func (m *Metrics) Retry(backend string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(backend).Inc()
}

func (m *Metrics) Deduped(backend string) {
	if m == nil {
		return
	}
	m.deduped.WithLabelValues(backend).Inc()
}

func (m *Metrics) Cleanup(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanups.WithLabelValues("error").Inc()
		return
	}
	m.cleanups.WithLabelValues("ok").Inc()
}
