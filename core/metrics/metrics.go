package metrics

import (
	"time"

	"github.com/kilianp07/marstek/core/model"
)

// UnitStateEvent is a snapshot of one battery after a refresh. Unknown
// measurements are NaN.
type UnitStateEvent struct {
	CycleID       string
	Unit          string
	PowerW        float64
	SoC           float64
	EnergyKWh     float64
	ACPowerW      float64
	RemoteControl bool
	Command       model.Command
	MaxChargeW    uint16
	MaxDischargeW uint16
	Time          time.Time
}

// UnitStateRecorder records battery snapshots.
type UnitStateRecorder interface {
	RecordUnitState(ev UnitStateEvent) error
}

// Outcomes of a control cycle.
const (
	OutcomeDispatched        = "dispatched"
	OutcomeHeld              = "held"
	OutcomeMasterMode        = "master_mode"
	OutcomeUnknownMasterMode = "unknown_master_mode"
	OutcomeNoGridPower       = "no_grid_power"
)

// UnitAssignment is the command one unit received during a cycle.
type UnitAssignment struct {
	Unit    string
	Command model.Command
	Reason  string
	Error   string
}

// CycleEvent summarizes one control cycle.
type CycleEvent struct {
	CycleID        string
	MasterMode     model.MasterMode
	Strategy       model.Strategy
	Command        model.Command
	GridPowerW     float64
	TotalEnergyKWh float64
	AvgSoC         float64
	Outcome        string
	Assignments    []UnitAssignment
	Duration       time.Duration
	Time           time.Time
}

// CycleRecorder records control cycles.
type CycleRecorder interface {
	RecordCycle(ev CycleEvent) error
}

// MetricsSink is implemented by every sink.
type MetricsSink interface {
	UnitStateRecorder
	CycleRecorder
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordUnitState(UnitStateEvent) error { return nil }
func (NopSink) RecordCycle(CycleEvent) error         { return nil }
