package monitoring

import (
	"strconv"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the call and relay metric sinks on one registry.
type PrometheusCollector struct {
	// Calls
	callsStarted  *prometheus.CounterVec
	callsEnded    *prometheus.CounterVec
	callDuration  prometheus.Histogram
	phase         *prometheus.GaugeVec
	peerFailures  *prometheus.CounterVec
	iceRestarts   *prometheus.CounterVec
	signalingWait *prometheus.HistogramVec

	// Connection quality
	peerQuality *prometheus.GaugeVec
	peerRTT     prometheus.Histogram
	peerLoss    prometheus.Histogram

	// Messaging, screen share, recording
	messagesDelivered prometheus.Counter
	messagesFailed    prometheus.Counter
	screenShares      *prometheus.CounterVec
	recordings        *prometheus.CounterVec
	recordingBytes    prometheus.Counter
	recordingDuration prometheus.Histogram

	// Relay
	relayConnections prometheus.Gauge
	relayRequests    *prometheus.CounterVec
	relayLatency     *prometheus.HistogramVec
}

var (
	_ ports.CallMetrics   = (*PrometheusCollector)(nil)
	_ signal.RelayMetrics = (*PrometheusCollector)(nil)
)

var allPhases = []domain.Phase{
	domain.PhaseIdle,
	domain.PhaseCalling,
	domain.PhaseRinging,
	domain.PhaseConnected,
	domain.PhaseEnding,
}

// NewPrometheusCollector registers every metric on reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	p := &PrometheusCollector{
		callsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_started_total",
			Help: "Calls started, by mode, direction and topology",
		}, []string{"mode", "direction", "group"}),

		callsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_ended_total",
			Help: "Calls ended, by reason",
		}, []string{"reason"}),

		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_call_duration_seconds",
			Help:    "Duration of calls from start to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peercall_call_phase",
			Help: "Current call phase (1 for the active phase)",
		}, []string{"phase"}),

		peerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_peer_failures_total",
			Help: "Peer connection failures, by severity",
		}, []string{"severity"}),

		iceRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_ice_restarts_total",
			Help: "ICE restart attempts, by outcome",
		}, []string{"result"}),

		signalingWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peercall_signaling_wait_seconds",
			Help:    "Time spent waiting for a signaling message",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"role", "result"}),

		peerQuality: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peercall_peer_quality",
			Help: "Connection quality per peer (0 disconnected .. 3 excellent)",
		}, []string{"participant_id"}),

		peerRTT: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_peer_rtt_seconds",
			Help:    "Round trip time between peers",
			Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.3, 0.5, 1},
		}),

		peerLoss: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_peer_packet_loss_ratio",
			Help:    "Packet loss ratio per sample",
			Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.25, 1},
		}),

		messagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "peercall_messages_delivered_total",
			Help: "Data channel messages delivered to peers",
		}),

		messagesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "peercall_messages_failed_total",
			Help: "Data channel messages that failed to reach a peer",
		}),

		screenShares: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_screen_share_toggles_total",
			Help: "Screen share transitions",
		}, []string{"state"}),

		recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_recordings_total",
			Help: "Finished recordings, by MIME type",
		}, []string{"mime_type"}),

		recordingBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "peercall_recording_bytes_total",
			Help: "Bytes written to recording artifacts",
		}),

		recordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_recording_duration_seconds",
			Help:    "Length of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		relayConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_relay_connections",
			Help: "Open relay websocket connections",
		}),

		relayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_relay_requests_total",
			Help: "Relay requests, by operation and result code",
		}, []string{"op", "code"}),

		relayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peercall_relay_request_duration_seconds",
			Help:    "Relay request handling time, including subscribe waits",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op"}),
	}

	for _, ph := range allPhases {
		p.phase.WithLabelValues(string(ph)).Set(0)
	}
	p.phase.WithLabelValues(string(domain.PhaseIdle)).Set(1)
	return p
}

func (p *PrometheusCollector) CallStarted(mode domain.CallMode, direction domain.Direction, group bool) {
	p.callsStarted.WithLabelValues(string(mode), string(direction), strconv.FormatBool(group)).Inc()
}

func (p *PrometheusCollector) CallEnded(reason string, duration time.Duration) {
	p.callsEnded.WithLabelValues(reason).Inc()
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) PhaseChanged(from, to domain.Phase) {
	p.phase.WithLabelValues(string(from)).Set(0)
	p.phase.WithLabelValues(string(to)).Set(1)
}

func (p *PrometheusCollector) PeerQuality(participant domain.ParticipantID, quality domain.Quality, stats domain.ConnectionStats) {
	p.peerQuality.WithLabelValues(string(participant)).Set(float64(quality))
	if quality == domain.QualityDisconnected {
		return
	}
	p.peerRTT.Observe(stats.RTT.Seconds())
	p.peerLoss.Observe(stats.LossRatio())
}

// PeerLeft drops the per-peer series.
func (p *PrometheusCollector) PeerLeft(participant domain.ParticipantID) {
	p.peerQuality.DeleteLabelValues(string(participant))
}

func (p *PrometheusCollector) PeerFailed(fatal bool) {
	severity := "transient"
	if fatal {
		severity = "fatal"
	}
	p.peerFailures.WithLabelValues(severity).Inc()
}

func (p *PrometheusCollector) IceRestart(success bool) {
	result := "failed"
	if success {
		result = "succeeded"
	}
	p.iceRestarts.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) SignalingWait(role domain.SignalRole, result string, d time.Duration) {
	p.signalingWait.WithLabelValues(string(role), result).Observe(d.Seconds())
}

func (p *PrometheusCollector) MessageBroadcast(delivered, failed int) {
	p.messagesDelivered.Add(float64(delivered))
	p.messagesFailed.Add(float64(failed))
}

func (p *PrometheusCollector) ScreenShareToggled(active bool) {
	state := "stopped"
	if active {
		state = "started"
	}
	p.screenShares.WithLabelValues(state).Inc()
}

func (p *PrometheusCollector) RecordingFinished(mimeType string, bytes int, d time.Duration) {
	p.recordings.WithLabelValues(mimeType).Inc()
	p.recordingBytes.Add(float64(bytes))
	p.recordingDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.relayConnections.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.relayConnections.Dec()
}

func (p *PrometheusCollector) RequestHandled(op string, code string, d time.Duration) {
	p.relayRequests.WithLabelValues(op, code).Inc()
	p.relayLatency.WithLabelValues(op).Observe(d.Seconds())
}
