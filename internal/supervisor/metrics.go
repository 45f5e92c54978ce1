package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	engineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loramint",
			Subsystem: "engine",
			Name:      "state",
			Help:      "Current engine supervisor state (1 for the active state)",
		},
		[]string{"state"},
	)

	engineStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loramint",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Engine start attempts by outcome",
		},
		[]string{"outcome"},
	)

	engineOutputDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loramint",
			Subsystem: "engine",
			Name:      "output_lines_dropped_total",
			Help:      "Engine output lines dropped because the log forwarder was behind",
		},
	)
)

func init() {
	prometheus.MustRegister(engineState, engineStartsTotal, engineOutputDropped)
}

func recordState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		engineState.WithLabelValues(string(st)).Set(v)
	}
}
