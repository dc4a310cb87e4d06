// Package metrics exposes Prometheus metrics for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture pipeline. A nil
// *Metrics is valid everywhere and records nothing, so tests and embedders
// without a registry can pass nil.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionErrors   prometheus.Counter

	// Chunk metrics
	AudioChunksEmitted prometheus.Counter
	VideoChunksEmitted prometheus.Counter
	ChunksDelivered    prometheus.Counter
	DeliveryFailures   prometheus.Counter
	DeliveryDuration   prometheus.Histogram

	// Device metrics
	LoopbackUnavailable prometheus.Counter
	MicAutoResumes      prometheus.Counter
	FramesDropped       prometheus.Counter
}

// New creates and registers all pipeline metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meetcap_active_sessions",
			Help: "Number of capture sessions currently running",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_session_errors_total",
			Help: "Total number of capture sessions ended by a fatal error",
		}),
		AudioChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_audio_chunks_emitted_total",
			Help: "Total number of PCM chunks produced by the mixer",
		}),
		VideoChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_video_chunks_emitted_total",
			Help: "Total number of encoded video chunks produced",
		}),
		ChunksDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_chunks_delivered_total",
			Help: "Total number of chunks handed to the persistence boundary",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_delivery_failures_total",
			Help: "Total number of chunk deliveries that failed",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetcap_delivery_duration_seconds",
			Help:    "Time spent delivering a single chunk",
			Buckets: prometheus.DefBuckets,
		}),
		LoopbackUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_loopback_unavailable_total",
			Help: "Total number of loopback acquisitions that degraded to mic-only",
		}),
		MicAutoResumes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_mic_auto_resumes_total",
			Help: "Total number of silent microphone resumes after device changes",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetcap_frames_dropped_total",
			Help: "Total number of hardware frames dropped by backpressure or pause",
		}),
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) DecActiveSessions() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) IncSessionErrors() {
	if m != nil {
		m.SessionErrors.Inc()
	}
}

func (m *Metrics) IncAudioChunks() {
	if m != nil {
		m.AudioChunksEmitted.Inc()
	}
}

func (m *Metrics) IncVideoChunks() {
	if m != nil {
		m.VideoChunksEmitted.Inc()
	}
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.ChunksDelivered.Inc()
	}
}

func (m *Metrics) IncDeliveryFailures() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

func (m *Metrics) ObserveDelivery(seconds float64) {
	if m != nil {
		m.DeliveryDuration.Observe(seconds)
	}
}

func (m *Metrics) IncLoopbackUnavailable() {
	if m != nil {
		m.LoopbackUnavailable.Inc()
	}
}

func (m *Metrics) IncMicAutoResumes() {
	if m != nil {
		m.MicAutoResumes.Inc()
	}
}

func (m *Metrics) IncFramesDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}
