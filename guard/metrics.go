package guard

import "github.com/prometheus/client_golang/prometheus"

var (
	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "guard",
		Name:      "retries_total",
		Help:      "Number of acquisition retries on a busy or poisoned guard",
	}, []string{"guard"})

	contendedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "guard",
		Name:      "contended_total",
		Help:      "Number of acquisitions that exhausted the retry policy",
	}, []string{"guard"})

	poisonCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "guard",
		Name:      "poisoned_total",
		Help:      "Number of writes that panicked and poisoned the guard",
	}, []string{"guard"})

	repairCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "guard",
		Name:      "repaired_total",
		Help:      "Number of poisoned guards repaired by a later acquirer",
	}, []string{"guard"})
)

func init() {
	prometheus.MustRegister(
		retryCounter,
		contendedCounter,
		poisonCounter,
		repairCounter)
}
