package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedme_jobs_processed_total",
			Help: "Queue jobs processed by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)
	ScrapeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedme_scrape_failures_total",
			Help: "Scraping provider calls that ended in error",
		},
	)
	CooldownActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedme_cooldown_activations_total",
			Help: "Times the provider circuit breaker armed its cooldown",
		},
	)
	PostsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedme_posts_upserted_total",
			Help: "Sheet rows written by kind (inserted or updated)",
		},
		[]string{"kind"},
	)
	AlertCandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedme_alert_candidates_total",
			Help: "Alert candidates generated by type",
		},
		[]string{"type"},
	)
	ScrapeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedme_scrape_duration_seconds",
			Help:    "Provider run duration from start to dataset read",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
		},
	)
)

// RegisterMetrics registers all collectors with the default registry.
// Call once at process start.
func RegisterMetrics() {
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(ScrapeFailuresTotal)
	prometheus.MustRegister(CooldownActivationsTotal)
	prometheus.MustRegister(PostsUpsertedTotal)
	prometheus.MustRegister(AlertCandidatesTotal)
	prometheus.MustRegister(ScrapeDuration)
}

// MetricsHandler exposes the default registry for scraping.
func MetricsHandler() http.Handler { return promhttp.Handler() }
