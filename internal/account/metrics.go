package account

import "github.com/prometheus/client_golang/prometheus"

// TransitionsTotal counts lifecycle operations by action and outcome.
var TransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gymops",
		Name:      "account_transitions_total",
		Help:      "Account lifecycle operations by action and result.",
	},
	[]string{"action", "result"},
)

func init() {
	prometheus.MustRegister(TransitionsTotal)
}
