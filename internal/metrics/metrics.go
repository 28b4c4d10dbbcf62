package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Event names, exported as the `event` label of the events counter.
const (
	WSConnections = "ws_connections"
	BadRequest    = "bad_request"
	OriginDenied  = "origin_denied"

	Seated   = "seated"
	Replaced = "replaced"
	IDTaken  = "id_taken"

	Heartbeats = "heartbeats"
	Routed     = "routed"
	// RoutedPrefix is joined with a protocol.Summary label, e.g. routed_offer.
	RoutedPrefix = "routed_"
	InvalidSDP   = "invalid_negotiation_payload"

	DropReasonMalformed        = "drop_malformed"
	DropReasonNoDestination    = "drop_no_destination"
	DropReasonSendQueueFull    = "drop_send_queue_full"
	DropReasonRateLimited      = "rate_limited"
	DropReasonMessageTooLarge  = "message_too_large"
	DropReasonUnsupportedFrame = "unsupported_frame"
)

const (
	namespace = "aero"
	subsystem = "peerjs_signaling"
)

// Metrics is a concurrency-safe set of event counters backed by a private
// Prometheus registry. A nil *Metrics discards everything.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Signaling events by kind.",
	}, []string{"event"})

	reg.MustRegister(
		events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{reg: reg, events: events}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

// GaugeFunc exposes fn as a gauge evaluated at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}
