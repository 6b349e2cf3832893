package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for inbound frames.
const (
	dropMalformed    = "malformed"
	dropUnknownType  = "unknown_type"
	dropPrecondition = "precondition"
	dropUnauthorized = "unauthorized"
	dropNotFound     = "not_found"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	Broadcasts         prometheus.Counter
	BroadcastSends     prometheus.Counter
	SendFailures       *prometheus.CounterVec
	CommandsDispatched *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	HandlerPanics      prometheus.Counter
}

// NewMetrics registers the relay collectors on reg, including gauges that
// read connection counts from registry at scrape time.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	factory := promauto.With(reg)
	const namespace, subsystem = "relayhub", "relay"

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connections",
		Help:      "Currently registered connections",
	}, func() float64 { return float64(registry.Count()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "devices_connected",
		Help:      "Devices with an addressable connection",
	}, func() float64 { return float64(registry.DeviceCount()) })

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Inbound frames accepted, by type",
		}, []string{"type"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_dropped_total",
			Help:      "Inbound frames dropped, by reason",
		}, []string{"reason"}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcasts_total",
			Help:      "Broadcast events",
		}),
		BroadcastSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcast_sends_total",
			Help:      "Per-connection enqueues made by broadcasts",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_failures_total",
			Help:      "Frames a connection did not accept, by path",
		}, []string{"path"}),
		CommandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_dispatched_total",
			Help:      "Commands dispatched, by delivery outcome",
		}, []string{"delivered"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "device_status_transitions_total",
			Help:      "Stored device status changes, by new status",
		}, []string{"status"}),
		HandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in connection handlers",
		}),
	}
}

func (m *Metrics) received(t MessageType) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) broadcast(sent int) {
	if m != nil {
		m.Broadcasts.Inc()
		m.BroadcastSends.Add(float64(sent))
	}
}

func (m *Metrics) sendFailed(path string) {
	if m != nil {
		m.SendFailures.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) dispatched(delivered bool) {
	if m != nil {
		label := "false"
		if delivered {
			label = "true"
		}
		m.CommandsDispatched.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) transition(status string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) panicked() {
	if m != nil {
		m.HandlerPanics.Inc()
	}
}
