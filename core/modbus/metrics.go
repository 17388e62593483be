package modbus

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var transactions *prometheus.CounterVec

func newCollectors() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modbus_transactions_total",
			Help: "Modbus transactions by function code and outcome",
		},
		[]string{"function", "result"},
	)
}

func init() {
	transactions = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the client metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(transactions)
}

// ResetMetrics reinitializes the collectors for testing purposes and
// registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	transactions = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func observe(fc byte, err error) {
	transactions.WithLabelValues(strconv.Itoa(int(fc)), result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "error"
	}
}
