package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive prometheus.Gauge
	sessionsActive    prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
	recordingsActive  prometheus.Gauge

	// Counters
	messagesTotal   *prometheus.CounterVec
	matchesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	iceRestartTotal prometheus.Counter

	// Histograms
	matchWaitDuration prometheus.Histogram
	sessionDuration   prometheus.Histogram
	reportedRTT       prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_connections_active",
			Help: "Number of currently registered websocket connections",
		}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_sessions_active",
			Help: "Number of live signaling sessions",
		}),

		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pairlink_queue_depth",
			Help: "Number of users waiting for a match, per chain",
		}, []string{"chain"}),

		recordingsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_recordings_active",
			Help: "Number of sessions with an active recording",
		}),

		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_messages_received_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),

		matchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_matches_total",
			Help: "Completed matches by chain",
		}, []string{"chain"}),

		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_errors_sent_total",
			Help: "Error envelopes sent to clients by code",
		}, []string{"code"}),

		sessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_sessions_ended_total",
			Help: "Ended sessions by termination reason",
		}, []string{"reason"}),

		iceRestartTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_ice_restarts_total",
			Help: "Total ICE restart attempts granted",
		}),

		matchWaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairlink_match_wait_duration_seconds",
			Help:    "Time users spent in the matchmaking queue",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		sessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairlink_session_duration_seconds",
			Help:    "Lifetime of ended sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		reportedRTT: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairlink_reported_rtt_seconds",
			Help:    "Round-trip time reported by clients in connectivity metrics",
			Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.3, 0.5, 1, 2},
		}),
	}
}

func (p *PrometheusCollector) MessageReceived(msgType string) {
	p.messagesTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) MatchMade(chainID string, waited time.Duration) {
	p.matchesTotal.WithLabelValues(chainID).Inc()
	p.matchWaitDuration.Observe(waited.Seconds())
}

func (p *PrometheusCollector) ErrorSent(code string) {
	p.errorsTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) SessionEnded(reason string, lifetime time.Duration) {
	p.sessionsEnded.WithLabelValues(reason).Inc()
	p.sessionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) ICERestartGranted() {
	p.iceRestartTotal.Inc()
}

func (p *PrometheusCollector) RecordingStarted() {
	p.recordingsActive.Inc()
}

func (p *PrometheusCollector) RecordingStopped() {
	p.recordingsActive.Dec()
}

func (p *PrometheusCollector) SetConnectionsActive(n int) {
	p.connectionsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetSessionsActive(n int) {
	p.sessionsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetQueueDepth(chainID string, depth int) {
	p.queueDepth.WithLabelValues(chainID).Set(float64(depth))
}

func (p *PrometheusCollector) ObserveReportedRTT(rtt time.Duration) {
	p.reportedRTT.Observe(rtt.Seconds())
}
