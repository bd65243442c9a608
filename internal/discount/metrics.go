package discount

import "github.com/prometheus/client_golang/prometheus"

// TagOpsTotal counts discount tag operations by operation and type.
var TagOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gymops",
		Name:      "discount_tag_operations_total",
		Help:      "Discount tag adds and removals by discount type.",
	},
	[]string{"op", "type"},
)

func init() {
	prometheus.MustRegister(TagOpsTotal)
}
