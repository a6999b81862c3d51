package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		streamConnections,
		streamEventsTotal,
		streamDropsTotal,
		streamSinkErrors,
	)
}

var (
	streamConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_connections",
			Help: "Currently registered stream connections.",
		},
	)

	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Events emitted to conversations, labeled by event type.",
		},
		[]string{"type"},
	)

	streamDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_events_dropped_total",
			Help: "Events dropped because a connection's outbound buffer was full.",
		},
	)

	streamSinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_sink_errors_total",
			Help: "Delivery failures reported by connection sinks.",
		},
	)
)

func SetStreamConnections(n int) { streamConnections.Set(float64(n)) }
func IncStreamEvent(typ string)  { streamEventsTotal.WithLabelValues(norm(typ)).Inc() }
func IncStreamDrop()             { streamDropsTotal.Inc() }
func IncStreamSinkError()        { streamSinkErrors.Inc() }
