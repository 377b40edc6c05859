package custody

import "github.com/prometheus/client_golang/prometheus"

var (
	transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "custody",
		Name:      "transfers_total",
		Help:      "Number of custody transfers processed, by result",
	}, []string{"result"})

	retryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "custody",
		Name:      "retries_total",
		Help:      "Number of custody transfer attempts that were retried",
	})

	queuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "neuromancer",
		Subsystem: "custody",
		Name:      "queued",
		Help:      "Number of custody transfers waiting for a worker",
	})
)

func init() {
	prometheus.MustRegister(
		transferCounter,
		retryCounter,
		queuedGauge)
}
