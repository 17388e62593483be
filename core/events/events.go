package events

import (
	"time"

	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/dispatch"
	"github.com/kilianp07/marstek/core/model"
)

// UnitRefreshed is published after each unit refresh. Err holds the joined
// read failures, if any.
type UnitRefreshed struct {
	CycleID  string
	Snapshot battery.Snapshot
	Err      error
	Time     time.Time
}

// CycleCompleted is published once per control cycle.
type CycleCompleted struct {
	CycleID        string
	MasterMode     model.MasterMode
	Strategy       model.Strategy
	Command        model.Command
	GridPowerW     float64
	TotalEnergyKWh float64
	AvgSoC         float64
	// Outcome is one of the metrics.Outcome constants.
	Outcome  string
	Dispatch dispatch.Result
	Started  time.Time
	Duration time.Duration
}
