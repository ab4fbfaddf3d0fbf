package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ActiveSession      prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	SessionEndReasons  *prometheus.CounterVec
	StateTransitions   *prometheus.CounterVec
	AvatarModes        *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	Reconnects         prometheus.Counter
	Connected          prometheus.Gauge
	MalformedEnvelopes prometheus.Counter
	PollResults        *prometheus.CounterVec
	PollLatency        prometheus.Histogram
	FirstAudioLatency  prometheus.Histogram

	Stages *StageWindow
}

// NewMetrics registers on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		ActiveSession: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session",
			Help:      "1 while a guest session is active.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		SessionEndReasons: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_end_reasons_total",
			Help:      "Ended sessions by stop reason.",
		}, []string{"reason"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Session state machine transitions.",
		}, []string{"from", "to"}),
		AvatarModes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_mode_changes_total",
			Help:      "Avatar mode changes by target mode.",
		}, []string{"mode"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connected",
			Help:      "1 while the agent channel is open.",
		}),
		MalformedEnvelopes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_malformed_envelopes_total",
			Help:      "Inbound messages that failed to parse.",
		}),
		PollResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status polls by result.",
		}, []string{"result"}),
		PollLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "status_poll_latency_ms",
			Help:      "Status poll round trip in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from guest speech to first agent audio in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		Stages: NewStageWindow(128),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSessionEnded(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.SessionEndReasons.WithLabelValues(reason).Inc()
	m.ActiveSession.Set(0)
}

func (m *Metrics) ObserveSessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSession.Set(1)
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveAvatarMode(mode string) {
	if m == nil {
		return
	}
	m.AvatarModes.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveMalformed() {
	if m == nil {
		return
	}
	m.MalformedEnvelopes.Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
	m.Stages.ObserveIndicator("reconnect")
}

func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

func (m *Metrics) ObservePoll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.PollResults.WithLabelValues(result).Inc()
	m.PollLatency.Observe(float64(d.Milliseconds()))
	m.Stages.Observe(StagePoll, d)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.Stages.Observe(StageFirstAudio, d)
}

func (m *Metrics) ObserveTurnDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.Stages.Observe(StageTurn, d)
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return MetricsHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
