package subscription

import "github.com/prometheus/client_golang/prometheus"

// LinesTotal counts subscription line writes by outcome.
var LinesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gymops",
		Name:      "subscription_lines_total",
		Help:      "Subscription line writes by outcome (created, replayed, conflict, error).",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(LinesTotal)
}
