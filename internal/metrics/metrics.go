package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the ingestion loop, router and retry scheduler
var (
	EventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_events_ingested_total",
			Help: "Total number of payment events handed to the router",
		},
	)

	EventsMalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_events_malformed_total",
			Help: "Total number of feed events skipped as malformed",
		},
	)

	FeedFetchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_feed_fetch_errors_total",
			Help: "Total number of failed feed fetches",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Routing and delivery outcomes by channel",
		},
		[]string{"channel", "result"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_dead_letters_total",
			Help: "Deliveries that reached a terminal failure",
		},
		[]string{"reason"},
	)

	RetryClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_retry_claim_conflicts_total",
			Help: "Due deliveries skipped because another sweep claimed them first",
		},
	)

	WatermarkBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_watermark_block",
			Help: "Last committed block number",
		},
	)

	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_send_duration_seconds",
			Help:    "Duration of channel send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsIngestedTotal,
			EventsMalformedTotal,
			FeedFetchErrorsTotal,
			DeliveriesTotal,
			DeadLettersTotal,
			RetryClaimConflictsTotal,
			WatermarkBlock,
			SendDuration,
		)
	})
}
