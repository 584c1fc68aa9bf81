// Package metrics exposes Prometheus collectors for the API and the importer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fastygo/opendatahub/domain"
)

const namespace = "opendatahub"

type Metrics struct {
	registry *prometheus.Registry

	importRuns     *prometheus.CounterVec
	importRecords  *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		importRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import runs by feed and outcome",
		}, []string{"feed", "outcome"}),
		importRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Imported records by feed and result",
		}, []string{"feed", "result"}),
		importDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "run_duration_seconds",
			Help:      "Duration of import runs",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"feed"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker of an upstream host is open",
		}, []string{"host"}),
	}
}

// ObserveImport records the outcome of one import run.
func (m *Metrics) ObserveImport(feed, outcome string, d domain.UpdateDetail, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importRuns.WithLabelValues(feed, outcome).Inc()
	m.importDuration.WithLabelValues(feed).Observe(elapsed.Seconds())
	for result, n := range map[string]int{
		"created":   d.Created,
		"updated":   d.Updated,
		"deleted":   d.Deleted,
		"error":     d.Error,
		"unchanged": d.ObjectCompared - d.Updated,
	} {
		if n > 0 {
			m.importRecords.WithLabelValues(feed, result).Add(float64(n))
		}
	}
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetBreakerOpen tracks the breaker state of an upstream host.
func (m *Metrics) SetBreakerOpen(host string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(host).Set(v)
}

// WatchBuffer exposes the size of the write buffer.
func (m *Metrics) WatchBuffer(size func() int) {
	if m == nil || size == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "buffer",
		Name:      "items",
		Help:      "Document writes waiting for replay",
	}, func() float64 { return float64(size()) }))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
