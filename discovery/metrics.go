package discovery

import "github.com/prometheus/client_golang/prometheus"

var expiredKeyCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "neuromancer",
	Subsystem: "discovery",
	Name:      "expired_keys_total",
	Help:      "Number of member keys ignored because their lease expired",
})

func init() {
	prometheus.MustRegister(expiredKeyCounter)
}
