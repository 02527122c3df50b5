// Package metrics provides Prometheus instrumentation for the arena matcher:
// queue depth, pairing and resolution throughput, transaction latency and
// HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the number of users waiting in the match queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arena_queue_size",
		Help: "Current number of unmatched users in the match queue",
	})

	// PairingsTotal counts matches formed by the pairing engine.
	PairingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_pairings_total",
		Help: "Total number of matches formed",
	})

	// ResolutionsTotal counts archived matches, labeled by outcome:
	// "agreed" or "disputed".
	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_resolutions_total",
		Help: "Total number of resolved matches",
	}, []string{"outcome"})

	// TxDuration records transaction latency per operation.
	TxDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_tx_duration_seconds",
		Help:    "Database transaction latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"}) // op = "pair", "start_voting", "vote"

	// HTTPRequestsTotal counts API requests by route pattern and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		PairingsTotal,
		ResolutionsTotal,
		TxDuration,
		HTTPRequestsTotal,
	)
}

// ObserveTx records the time elapsed since start under op.
func ObserveTx(op string, start time.Time) {
	TxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
