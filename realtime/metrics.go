package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects session counters. All methods are nil-safe so a
// session without metrics carries no instrumentation cost beyond a nil
// check.
type Metrics struct {
	ReconnectAttempts prometheus.Counter
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	DecodeErrors      prometheus.Counter
	DroppedEvents     prometheus.Counter
	ConnectionState   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Number of reconnect attempts made by the session.",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_sent_total",
			Help: "Number of frames written to the transport.",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_received_total",
			Help: "Number of frames read from the transport.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_decode_errors_total",
			Help: "Number of inbound frames dropped because they failed to decode.",
		}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_dropped_events_total",
			Help: "Number of application events dropped because the consumer lagged.",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=error).",
		}),
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) incFramesSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) incFramesReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) incDecodeErrors() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) incDroppedEvents() {
	if m != nil {
		m.DroppedEvents.Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.ConnectionState.Set(float64(s))
	}
}
