package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchLatency *prometheus.HistogramVec
	unitsDispatched *prometheus.CounterVec
	unitFailures    *prometheus.CounterVec
	idleHolds       prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_execution_latency_seconds",
			Help:    "Time spent delivering one aggregate command to every unit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	units := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "units_dispatched_total",
			Help: "Number of per-unit commands issued",
		},
		[]string{"mode"},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unit_command_failures_total",
			Help: "Number of per-unit commands that failed",
		},
		[]string{"unit"},
	)
	hold := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_idle_holds_total",
			Help: "Number of stop commands suppressed by the idle hold",
		},
	)
	return lat, units, fail, hold
}

func init() {
	dispatchLatency, unitsDispatched, unitFailures, idleHolds = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchLatency, unitsDispatched, unitFailures, idleHolds)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchLatency, unitsDispatched, unitFailures, idleHolds = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
