package rpc

import "github.com/prometheus/client_golang/prometheus"

var (
	callCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neuromancer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Number of rpc calls served, by method and status code",
	}, []string{"method", "code"})

	callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "neuromancer",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Duration of rpc calls served",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(
		callCounter,
		callDuration)
}
