// Package metrics exposes Prometheus collectors for the matcher service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultNamespace = "cv_matcher"

	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"

	ScoreOK       = "ok"
	ScoreFallback = "fallback"
	ScoreFailed   = "failed"
)

// Registry owns a private Prometheus registry and the service collectors.
type Registry struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	rateLimitDecisions *prometheus.CounterVec
	scoring            *prometheus.CounterVec
	scoringLatency     prometheus.Histogram
	archiveFailures    *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

type Option func(*Registry)

func WithNamespace(namespace string) Option {
	return func(r *Registry) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

func WithHistogramBuckets(buckets []float64) Option {
	return func(r *Registry) {
		if len(buckets) > 0 {
			r.buckets = buckets
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(r *Registry) {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		namespace: defaultNamespace,
		buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}

	auto := promauto.With(r.registry)

	r.rateLimitDecisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by tier and outcome.",
	}, []string{"tier", "outcome"})

	r.scoring = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "scoring",
		Name:      "results_total",
		Help:      "Scoring calls by outcome (ok, fallback, failed).",
	}, []string{"outcome"})

	r.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: "scoring",
		Name:      "duration_seconds",
		Help:      "Latency of language model scoring calls.",
		Buckets:   r.buckets,
	})

	r.archiveFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "storage",
		Name:      "archive_failures_total",
		Help:      "Upload records that could not be persisted, by collection.",
	}, []string{"collection"})

	r.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	r.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   r.buckets,
	}, []string{"route", "method"})

	return r
}

func (r *Registry) RateLimitDecision(tier string, allowed bool) {
	outcome := OutcomeRejected
	if allowed {
		outcome = OutcomeAdmitted
	}
	r.rateLimitDecisions.WithLabelValues(tier, outcome).Inc()
}

func (r *Registry) ScoringResult(outcome string, took time.Duration) {
	r.scoring.WithLabelValues(outcome).Inc()
	r.scoringLatency.Observe(took.Seconds())
}

func (r *Registry) ArchiveFailure(collection string) {
	r.archiveFailures.WithLabelValues(collection).Inc()
}

func (r *Registry) HTTPRequest(route, method string, code int, took time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
