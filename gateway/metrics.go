package gateway

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/interfaces"
)

// Metrics records boundary calls. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyseal",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Boundary calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyseal",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Time spent in boundary calls, including pre-checks.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.duration)
	}
	return m
}

func (m *Metrics) observe(op enclave.Operation, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op.String(), resultLabel(err)).Inc()
	m.duration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, interfaces.ErrIntegrity):
		return "integrity"
	case errors.Is(err, interfaces.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, interfaces.ErrOutOfMemory):
		return "out_of_memory"
	default:
		return "unexpected"
	}
}
