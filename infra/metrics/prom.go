package metrics

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/core/model"
)

// PromSink exposes the fleet and controller state as Prometheus metrics.
type PromSink struct {
	unitPower    *prometheus.GaugeVec
	unitSoC      *prometheus.GaugeVec
	unitEnergy   *prometheus.GaugeVec
	unitACPower  *prometheus.GaugeVec
	unitRemote   *prometheus.GaugeVec
	unitAssigned *prometheus.GaugeVec
	unitErrors   *prometheus.CounterVec

	gridPower prometheus.Gauge
	avgSoC    prometheus.Gauge
	command   prometheus.Gauge
	strategy  *prometheus.GaugeVec
	cycles    *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with Serve.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	unit := []string{"unit"}
	s := &PromSink{}
	var err error
	gauge := func(name, help string) *prometheus.GaugeVec {
		g, e := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, unit))
		err = errors.Join(err, e)
		return g
	}
	s.unitPower = gauge("battery_power_watts", "Battery power reported by the inverter")
	s.unitSoC = gauge("battery_soc_percent", "Battery state of charge")
	s.unitEnergy = gauge("battery_energy_kwh", "Cumulative battery energy counter")
	s.unitACPower = gauge("battery_ac_power_watts", "AC side power reported by the inverter")
	s.unitRemote = gauge("battery_remote_control", "1 when the inverter accepts remote commands")
	s.unitAssigned = gauge("battery_assigned_power_watts", "Power assigned by the last dispatch, negative when charging")

	var e error
	s.unitErrors, e = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_command_errors_total",
		Help: "Per-unit commands that failed during dispatch",
	}, unit))
	err = errors.Join(err, e)

	s.gridPower, e = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_grid_power_watts",
		Help: "Grid power seen by the last control cycle",
	}))
	err = errors.Join(err, e)
	s.avgSoC, e = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_avg_soc_percent",
		Help: "Average state of charge across units with a known value",
	}))
	err = errors.Join(err, e)
	s.command, e = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_command_watts",
		Help: "Aggregate command of the last cycle, negative when charging",
	}))
	err = errors.Join(err, e)
	s.strategy, e = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_strategy_info",
		Help: "Set to 1 for the strategy resolved by the last cycle",
	}, []string{"strategy"}))
	err = errors.Join(err, e)
	s.cycles, e = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_cycles_total",
		Help: "Control cycles by outcome",
	}, []string{"outcome"}))
	err = errors.Join(err, e)
	s.duration, e = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "control_cycle_duration_seconds",
		Help:    "Wall time of one control cycle including device I/O",
		Buckets: prometheus.DefBuckets,
	}))
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return s, nil
}

// register registers c or returns the collector already registered under the
// same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordUnitState updates the per-unit gauges. Unknown values are skipped.
func (s *PromSink) RecordUnitState(ev coremetrics.UnitStateEvent) error {
	setKnown(s.unitPower.WithLabelValues(ev.Unit), ev.PowerW)
	setKnown(s.unitSoC.WithLabelValues(ev.Unit), ev.SoC)
	setKnown(s.unitEnergy.WithLabelValues(ev.Unit), ev.EnergyKWh)
	setKnown(s.unitACPower.WithLabelValues(ev.Unit), ev.ACPowerW)
	remote := 0.0
	if ev.RemoteControl {
		remote = 1
	}
	s.unitRemote.WithLabelValues(ev.Unit).Set(remote)
	return nil
}

// RecordCycle updates the controller metrics.
func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	s.cycles.WithLabelValues(ev.Outcome).Inc()
	s.duration.Observe(ev.Duration.Seconds())
	if ev.Outcome != coremetrics.OutcomeDispatched && ev.Outcome != coremetrics.OutcomeHeld {
		return nil
	}
	s.gridPower.Set(ev.GridPowerW)
	s.avgSoC.Set(ev.AvgSoC)
	s.command.Set(SignedPower(ev.Command))
	s.strategy.Reset()
	s.strategy.WithLabelValues(ev.Strategy.String()).Set(1)
	for _, a := range ev.Assignments {
		s.unitAssigned.WithLabelValues(a.Unit).Set(SignedPower(a.Command))
		if a.Error != "" {
			s.unitErrors.WithLabelValues(a.Unit).Inc()
		}
	}
	return nil
}

// SignedPower returns the command power, negative for charging.
func SignedPower(c model.Command) float64 {
	switch c.Mode {
	case model.ModeCharge:
		return -float64(c.PowerW)
	case model.ModeDischarge:
		return float64(c.PowerW)
	default:
		return 0
	}
}

func setKnown(g prometheus.Gauge, v float64) {
	if !math.IsNaN(v) {
		g.Set(v)
	}
}
