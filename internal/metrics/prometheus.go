package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opencoding_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)

	TracesImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opencoding_traces_imported_total",
			Help: "Total traces inserted by CSV import",
		},
	)

	TracesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opencoding_traces_skipped_total",
			Help: "Total duplicate rows skipped by CSV import",
		},
	)

	AnnotationsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencoding_annotations_saved_total",
			Help: "Total annotation upserts by rating and outcome",
		},
		[]string{"rating", "outcome"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencoding_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencoding_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	JWKSRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencoding_jwks_refreshes_total",
			Help: "Total JWKS key set refreshes",
		},
		[]string{"status"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opencoding_webhook_events_total",
			Help: "Total identity-provider webhook events processed",
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(TracesImported)
	prometheus.MustRegister(TracesSkipped)
	prometheus.MustRegister(AnnotationsSaved)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(JWKSRefreshes)
	prometheus.MustRegister(WebhookEvents)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
