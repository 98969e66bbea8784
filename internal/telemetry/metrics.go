package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	GenerationSuccess = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_generated_total", Help: "Content items generated successfully"})
	GenerationFailure = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_generation_failed_total", Help: "Content generations that failed"})
	DedupRegenerates  = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_dedup_regenerated_total", Help: "Generations re-invoked after a near-duplicate hit"})
	PublishedItems    = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_published_total", Help: "Content items published by the sweep"})
	DeadLettered      = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_dead_letter_total", Help: "Generation jobs moved to DLQ"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "admin_rate_limit_rejects_total", Help: "Admin requests rejected by rate limiter"})
	StatusQueries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "status_resolutions_total", Help: "Operating-status resolutions served"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "content_queue_depth", Help: "Ready generation queue depth"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "content_inflight", Help: "Generation jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			GenerationSuccess,
			GenerationFailure,
			DedupRegenerates,
			PublishedItems,
			DeadLettered,
			RateLimitRejects,
			StatusQueries,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
