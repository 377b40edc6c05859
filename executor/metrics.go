package executor

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/guard"
)

var changeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "neuromancer",
	Subsystem: "executor",
	Name:      "membership_changes_total",
	Help:      "Number of membership change requests handled, by result",
}, []string{"result"})

func init() {
	prometheus.MustRegister(changeCounter)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, checksum.ErrTokenLength):
		return "token_length"
	case errors.Is(err, checksum.ErrMismatch):
		return "mismatch"
	case errors.Is(err, checksum.ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, guard.ErrContended):
		return "contended"
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
