package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_fetch_duration_seconds",
		Help:    "Duration of registration fetches by result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	skippedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_skipped_records_total",
		Help: "Malformed registration records left out of grouping.",
	})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_open_sessions",
		Help: "Coordinator sessions held by this instance.",
	})
)

func observeFetch(result string, elapsed time.Duration) {
	fetchDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
