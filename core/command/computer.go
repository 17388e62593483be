// Package command computes the aggregate battery command for a concrete
// strategy.
package command

import (
	"math"

	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/core/params"
)

// ChargePVCeilingW bounds the charge power requested from surplus export.
const ChargePVCeilingW = 10000

// Goal texts selecting the stop condition of the Charge and Sell strategies.
const (
	GoalSoC    = "state of charge"
	GoalEnergy = "energy reserve"
)

// RegulatorMemory is the state carried by the regulator between cycles.
// The integral is not bounded.
type RegulatorMemory struct {
	Integral   float64
	PrevError  float64
	PrevOutput float64
}

// Gains are the regulator settings of one cycle.
type Gains struct {
	TargetGridW float64
	Hysteresis  float64
	Kp, Ki, Kd  float64
	// Dampening factors in [0,1].
	OutputDamp float64
	ErrorDamp  float64
}

// Inputs are the fleet measurements a command depends on.
type Inputs struct {
	GridPowerW     float64
	TotalEnergyKWh float64
	AvgSoC         float64
}

// Computer owns the regulator memory. It is not safe for concurrent use.
type Computer struct {
	params params.Provider
	mem    RegulatorMemory
}

// NewComputer returns a computer with zeroed regulator memory.
func NewComputer(p params.Provider) *Computer {
	return &Computer{params: p}
}

// Memory returns a copy of the regulator memory.
func (c *Computer) Memory() RegulatorMemory { return c.mem }

// Gains reads the regulator settings. Dampening is configured in percent.
func (c *Computer) Gains() Gains {
	p := c.params
	return Gains{
		TargetGridW: p.Number(params.KeyTargetGridPower, 0),
		Hysteresis:  p.Number(params.KeyHysteresis, 0),
		Kp:          p.Number(params.KeyKp, 0),
		Ki:          p.Number(params.KeyKi, 0),
		Kd:          p.Number(params.KeyKd, 0),
		OutputDamp:  p.Number(params.KeyOutputDampening, 0) / 100,
		ErrorDamp:   p.Number(params.KeyErrorDampening, 0) / 100,
	}
}

// Compute returns the aggregate command for s. Only the regulator path
// touches the memory.
func (c *Computer) Compute(s model.Strategy, in Inputs) model.Command {
	g := c.Gains()
	switch s {
	case model.StrategyFullStop:
		return model.Stop
	case model.StrategyCharge:
		return c.charge(in)
	case model.StrategySell:
		return c.sell(in)
	case model.StrategyChargePV:
		if in.GridPowerW < -g.Hysteresis {
			return model.Command{Mode: model.ModeCharge, PowerW: model.ClampPower(math.Min(-in.GridPowerW, ChargePVCeilingW))}
		}
		return model.Stop
	default:
		return Regulate(&c.mem, g, in.GridPowerW)
	}
}

func (c *Computer) charge(in Inputs) model.Command {
	p := c.params
	target := p.Number(params.KeyChargeTargetW, 0)
	var stop bool
	switch p.Text(params.KeyChargeGoal, "") {
	case GoalSoC:
		stop = in.AvgSoC >= p.Number(params.KeyChargeTargetSoC, 100)
	case GoalEnergy:
		stop = in.TotalEnergyKWh >= p.Number(params.KeyChargeTargetKWh, 0)
	}
	if stop {
		return model.Stop
	}
	return model.Command{Mode: model.ModeCharge, PowerW: model.ClampPower(target)}
}

func (c *Computer) sell(in Inputs) model.Command {
	p := c.params
	target := p.Number(params.KeySellTargetW, 0)
	var stop bool
	switch p.Text(params.KeySellGoal, "") {
	case GoalSoC:
		stop = in.AvgSoC <= p.Number(params.KeySellTargetSoC, 12)
	case GoalEnergy:
		stop = in.TotalEnergyKWh <= p.Number(params.KeySellTargetKWh, 0)
	}
	if stop {
		return model.Stop
	}
	return model.Command{Mode: model.ModeDischarge, PowerW: model.ClampPower(target)}
}

// Regulate runs one step of the damped PID on the grid power error and
// classifies the output against the hysteresis band. Positive output means
// the site imports, so the fleet discharges.
func Regulate(mem *RegulatorMemory, g Gains, gridPowerW float64) model.Command {
	err := gridPowerW - g.TargetGridW
	damped := err*(1-g.ErrorDamp) + mem.PrevError*g.ErrorDamp

	mem.Integral += damped
	derivative := damped - mem.PrevError

	raw := g.Kp*damped + g.Ki*mem.Integral + g.Kd*derivative
	out := raw*(1-g.OutputDamp) + mem.PrevOutput*g.OutputDamp

	mem.PrevError = damped
	mem.PrevOutput = out

	switch {
	case out > g.Hysteresis:
		return model.Command{Mode: model.ModeDischarge, PowerW: model.ClampPower(out)}
	case out < -g.Hysteresis:
		return model.Command{Mode: model.ModeCharge, PowerW: model.ClampPower(-out)}
	default:
		return model.Stop
	}
}
