package ownership

import "github.com/prometheus/client_golang/prometheus"

var (
	rebalancedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "ownership",
		Name:      "rebalanced_total",
		Help:      "Number of identifiers moved to a new owner",
	})

	unplacedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "ownership",
		Name:      "unplaced_total",
		Help:      "Number of identifiers left with a removed owner because the ring was empty",
	})
)

func init() {
	prometheus.MustRegister(
		rebalancedCounter,
		unplacedCounter)
}
