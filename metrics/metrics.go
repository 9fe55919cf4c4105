// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "always_origin"

// Metrics implements the cache and dispatcher observers on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	lookups        *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	records        prometheus.Gauge
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	rejected       prometheus.Counter
	journalDrops   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Responses sent, by status code and cache result.",
		}, []string{"code", "cache"}),
		requestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from parsed request to written response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups, by result.",
		}, []string{"result"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Records removed from the cache, by reason.",
		}, []string{"reason"}),
		records: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_records",
			Help:      "Records currently cached.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Connections waiting for a worker.",
		}),
		busyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_busy_workers",
			Help:      "Workers currently serving a connection.",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_rejected_total",
			Help:      "Connections answered with 503 because the queue was full.",
		}),
		journalDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_dropped_total",
			Help:      "Journal entries dropped because the write buffer was full.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one written response.
func (m *Metrics) ObserveRequest(code int, cacheResult string, took time.Duration) {
	m.requests.WithLabelValues(strconv.Itoa(code), cacheResult).Inc()
	m.requestSeconds.WithLabelValues(cacheResult).Observe(took.Seconds())
}

func (m *Metrics) Lookup(hit bool) {
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Evicted(reason string, n int) {
	if n > 0 {
		m.evictions.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Resized(n int) {
	m.records.Set(float64(n))
}

func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) BusyWorkers(n int) {
	m.busyWorkers.Set(float64(n))
}

func (m *Metrics) Rejected() {
	m.rejected.Inc()
}

func (m *Metrics) JournalDropped() {
	m.journalDrops.Inc()
}

// Router serves /metrics and /healthz for the ops listener.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return r
}
