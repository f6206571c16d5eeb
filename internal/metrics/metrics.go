// Package metrics exposes Prometheus metrics for serve mode. Every
// recording method is nil-safe so engine code paths behave identically
// whether or not a registry is wired in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Domain metrics
	backtestsTotal     *prometheus.CounterVec
	backtestDuration   prometheus.Histogram
	evolutionGens      prometheus.Counter
	evolutionEvals     prometheus.Counter
	walkforwardWindows prometheus.Counter
	jobsActive         *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Domain metrics
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_backtests_total",
			Help: "Total number of backtest runs",
		},
		[]string{"status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crucible_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
	r.evolutionGens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_evolution_generations_total",
			Help: "Total number of evolutionary search generations completed",
		},
	)
	r.evolutionEvals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_evolution_evaluations_total",
			Help: "Total number of fitness evaluations performed",
		},
	)
	r.walkforwardWindows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_walkforward_windows_total",
			Help: "Total number of walk-forward windows evaluated",
		},
	)
	r.jobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crucible_jobs_active",
			Help: "Number of active jobs",
		},
		[]string{"type"},
	)

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.evolutionGens)
	reg.MustRegister(r.evolutionEvals)
	reg.MustRegister(r.walkforwardWindows)
	reg.MustRegister(r.jobsActive)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordBacktest records a completed backtest run.
func (r *Registry) RecordBacktest(status string, duration float64) {
	if r == nil {
		return
	}
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// RecordEvolution records a finished evolutionary search.
func (r *Registry) RecordEvolution(generations, evaluations int) {
	if r == nil {
		return
	}
	r.evolutionGens.Add(float64(generations))
	r.evolutionEvals.Add(float64(evaluations))
}

// RecordWindows records evaluated walk-forward windows.
func (r *Registry) RecordWindows(n int) {
	if r == nil {
		return
	}
	r.walkforwardWindows.Add(float64(n))
}

// SetJobsActive sets the number of active jobs of a type.
func (r *Registry) SetJobsActive(jobType string, count int) {
	if r == nil {
		return
	}
	r.jobsActive.WithLabelValues(jobType).Set(float64(count))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
