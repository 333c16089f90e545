// Package metrics espone i contatori Prometheus della pipeline di telemetria.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReadingsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_readings_accepted_total",
		Help: "Readings persisted by the reading store, by source.",
	}, []string{"source"})

	PayloadMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_payload_malformed_total",
		Help: "Payloads rejected by the normalizer, by source.",
	}, []string{"source"})

	PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_poll_failures_total",
		Help: "Failed HTTP poll ticks, by sensor.",
	}, []string{"sensor_id"})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_queue_dropped_total",
		Help: "Normalized readings dropped because the work queue was saturated.",
	})

	StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_store_failures_total",
		Help: "Reading writes that failed after the retry.",
	})

	StoreLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_store_write_seconds",
		Help:    "Latency of the reading store transaction.",
		Buckets: prometheus.DefBuckets,
	})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_alerts_raised_total",
		Help: "Alerts created, by severity.",
	}, []string{"severity"})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_alerts_suppressed_total",
		Help: "Threshold breaches suppressed by the dedup window.",
	})

	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_notify_failures_total",
		Help: "Best-effort alert notifications that failed, by channel.",
	}, []string{"channel"})

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_live_clients",
		Help: "Connected websocket clients.",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_broadcast_dropped_total",
		Help: "Live events dropped because the broadcaster was saturated.",
	})

	ActiveSources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_active_sources",
		Help: "Running ingestion sources, by adapter.",
	}, []string{"adapter"})
)

func Handler() http.Handler { return promhttp.Handler() }
