package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	RequestsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "song_requests_submitted_total",
			Help: "Total guest submissions by outcome",
		},
		[]string{"outcome"},
	)
	RequestsReviewed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "song_requests_reviewed_total",
			Help: "Total admin review decisions",
		},
		[]string{"decision"},
	)
	ReconcilerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_reconciler_ticks_total",
			Help: "Reconciliation loop ticks by result",
		},
		[]string{"result"},
	)
	RelayPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_publish_failures_total",
			Help: "Domain events that could not be published to the relay",
		},
	)
	ProviderCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spotify_call_duration_seconds",
			Help:    "Duration of Spotify Web API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{
		RequestsSubmitted, RequestsReviewed, ReconcilerTicks,
		RelayPublishFailures, ProviderCallDuration,
	} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
