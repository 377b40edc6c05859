package librarian

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "librarian",
		Name:      "lookups_total",
		Help:      "Number of identifier lookups, by result",
	}, []string{"result"})

	remapCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "librarian",
		Name:      "remaps_total",
		Help:      "Number of identifiers taken into custody",
	})
)

func init() {
	prometheus.MustRegister(
		lookupCounter,
		remapCounter)
}
