package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loramint",
			Subsystem: "relay",
			Name:      "streams_total",
			Help:      "Relayed progress streams by job kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loramint",
			Subsystem: "relay",
			Name:      "lines_total",
			Help:      "Lines forwarded from the engine to clients",
		},
		[]string{"kind"},
	)

	activeStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loramint",
			Subsystem: "relay",
			Name:      "active",
			Help:      "Progress streams currently being relayed",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(streamsTotal, linesTotal, activeStreams)
}
