package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, which keeps tests free of global
// registry collisions.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	StreamMessages     *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	BargeIns           prometheus.Counter
	PlaybackJobs       *prometheus.CounterVec
	DiscardedTurns     prometheus.Counter
	BargeInStopLatency prometheus.Histogram

	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of active call sessions.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		StreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Media-stream messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Playbacks interrupted by caller speech.",
		}),
		PlaybackJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_jobs_total",
			Help:      "Playback jobs by terminal status.",
		}, []string{"status"}),
		DiscardedTurns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_turns_total",
			Help:      "Utterances discarded by the confidence gate.",
		}),
		BargeInStopLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barge_in_stop_latency_ms",
			Help:      "Latency from barge-in transcript to playback stop in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		Stages: NewStageWindow(256),
	}
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(name).Inc()
	m.Stages.ObserveIndicator(name)
}

func (m *Metrics) StreamMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) BargeIn(stopLatency time.Duration) {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
	m.BargeInStopLatency.Observe(float64(stopLatency.Microseconds()) / 1000.0)
	m.Stages.Observe(StageBargeInStop, float64(stopLatency.Microseconds())/1000.0)
}

func (m *Metrics) Playback(status string) {
	if m == nil {
		return
	}
	m.PlaybackJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) Discarded() {
	if m == nil {
		return
	}
	m.DiscardedTurns.Inc()
	m.Stages.ObserveIndicator("low_confidence_discard")
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stages.Observe(stage, float64(d.Microseconds())/1000.0)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.Stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
