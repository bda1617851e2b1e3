// Package metrics holds the Prometheus collectors shared by the scraper,
// the refresh coordinator and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scrapeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitlist_scrape_total",
		Help: "Workout page scrapes by outcome",
	}, []string{"outcome"}) // outcome=success|network|parse|not_found|rate_limited

	scrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitlist_scrape_duration_seconds",
		Help:    "Time spent fetching and parsing one workout page",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	refreshQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitlist_refresh_queue_depth",
		Help: "Keys waiting in the refresh queue",
	})

	refreshDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitlist_refresh_dispatch_total",
		Help: "Refresh requests by result",
	}, []string{"result"}) // result=dispatched|coalesced|cached|rejected

	refreshDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitlist_refresh_wait_seconds",
		Help:    "Time the worker waited on the request floor before a dispatch",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10},
	})

	cacheRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fitlist_cache_rows",
		Help: "Rows in the workout cache by freshness",
	}, []string{"state"}) // state=fresh|stale

	storageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitlist_storage_errors_total",
		Help: "Failed storage operations by operation",
	}, []string{"op"})
)

// RecordScrape counts one scrape attempt and its latency.
func RecordScrape(outcome string, d time.Duration) {
	scrapeTotal.WithLabelValues(outcome).Inc()
	scrapeDuration.Observe(d.Seconds())
}

func SetQueueDepth(n int) { refreshQueueDepth.Set(float64(n)) }

func IncRefresh(result string) { refreshDispatchTotal.WithLabelValues(result).Inc() }

func ObserveRefreshWait(d time.Duration) { refreshDelay.Observe(d.Seconds()) }

// RecordCacheRows publishes the fresh/stale split from a health report.
func RecordCacheRows(total, stale int) {
	cacheRows.WithLabelValues("fresh").Set(float64(total - stale))
	cacheRows.WithLabelValues("stale").Set(float64(stale))
}

func IncStorageError(op string) { storageErrorsTotal.WithLabelValues(op).Inc() }
