package ring

import "github.com/prometheus/client_golang/prometheus"

var (
	membersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "neuromancer",
		Subsystem: "ring",
		Name:      "members",
		Help:      "Number of nodes on the membership ring",
	})

	applyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "ring",
		Name:      "apply_total",
		Help:      "Number of membership lists applied, by whether they changed the ring",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		membersGauge,
		applyCounter)
}
