// Package telemetry holds the Prometheus metrics exported by the
// ingestion pipeline, following the promauto registration idiom used
// by the teacher service's escrow metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the pipeline publishes.
type Metrics struct {
	EventsIngested   prometheus.Counter
	EventsDropped    *prometheus.CounterVec
	EventsEvicted    prometheus.Counter
	DecodeErrors     prometheus.Counter
	ScoreDuration    prometheus.Histogram
	ThreatScore      prometheus.Histogram
	BrokerClients    prometheus.Gauge
	BrokerSent       prometheus.Counter
	BrokerDropped    prometheus.Counter
	KillProcessTotal *prometheus.CounterVec
}

// New creates and registers the pipeline's metrics.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "netviz_events_ingested_total",
			Help: "Total enriched connection events accepted into the store.",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "netviz_events_dropped_total",
			Help: "Events dropped before reaching the store, by reason.",
		}, []string{"reason"}), // reason: analyzer_panic (decode failures are counted by DecodeErrors)
		EventsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "netviz_events_evicted_total",
			Help: "Events evicted from the connection store by capacity or age.",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "netviz_decode_errors_total",
			Help: "Raw kernel records that failed to decode.",
		}),
		ScoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "netviz_analyzer_score_duration_seconds",
			Help:    "Time spent scoring a single enriched event.",
			Buckets: prometheus.DefBuckets,
		}),
		ThreatScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "netviz_threat_score",
			Help:    "Distribution of assigned threat scores.",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		BrokerClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "netviz_broker_clients",
			Help: "Currently connected WebSocket subscribers.",
		}),
		BrokerSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "netviz_broker_messages_sent_total",
			Help: "Outbound broker messages delivered.",
		}),
		BrokerDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "netviz_broker_messages_dropped_total",
			Help: "Outbound broker messages dropped by the per-client rate limiter or a full outbound queue.",
		}),
		KillProcessTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "netviz_kill_process_total",
			Help: "Kill-process requests, by outcome.",
		}, []string{"outcome"}), // outcome: success, not_found, access_denied, unexpected
	}
}
