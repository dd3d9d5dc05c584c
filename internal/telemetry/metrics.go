package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_enqueued_total", Help: "Total submitted report jobs"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_completed_total", Help: "Reports rendered successfully"})
	WorkerFailures   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reports_failed_total", Help: "Reports that ended in failure"}, []string{"reason"})
	Retrievals       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reports_retrievals_total", Help: "Artifact retrievals by outcome"}, []string{"outcome"})
	Evictions        = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_evicted_total", Help: "Terminal jobs dropped by the janitor"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reports_queue_depth", Help: "Jobs waiting for a worker"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reports_inflight", Help: "Jobs currently rendering"})
	RenderDuration   = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reports_render_duration_seconds",
		Help:    "Time from dequeue to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// Failure reasons used with WorkerFailures.
const (
	ReasonTemplate   = "template"
	ReasonRender     = "render"
	ReasonConversion = "conversion"
	ReasonPanic      = "panic"
	ReasonOther      = "other"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			WorkerSuccess,
			WorkerFailures,
			Retrievals,
			Evictions,
			QueueDepthGauge,
			InFlightGauge,
			RenderDuration,
		)
	})
	return promhttp.Handler()
}
