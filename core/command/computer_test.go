package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/core/params"
)

func TestRegulatorProportionalExample(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeyKp, 0.5)
	s.SetNumber(params.KeyHysteresis, 50)
	c := NewComputer(s)

	cmd := c.Compute(model.StrategySelfConsumption, Inputs{GridPowerW: 500})
	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 250}, cmd)
	assert.Equal(t, RegulatorMemory{Integral: 500, PrevError: 500, PrevOutput: 250}, c.Memory())
}

func TestRegulatorClassification(t *testing.T) {
	g := Gains{Kp: 1, Hysteresis: 50}
	tests := []struct {
		grid float64
		want model.Command
	}{
		{120, model.Command{Mode: model.ModeDischarge, PowerW: 120}},
		{-300, model.Command{Mode: model.ModeCharge, PowerW: 300}},
		{50, model.Stop},
		{-50, model.Stop},
		{0, model.Stop},
	}
	for _, tt := range tests {
		var mem RegulatorMemory
		assert.Equal(t, tt.want, Regulate(&mem, g, tt.grid), "grid %v", tt.grid)
	}
}

func TestRegulatorDeterminism(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeyTargetGridPower, -20)
	s.SetNumber(params.KeyKp, 0.6)
	s.SetNumber(params.KeyKi, 0.05)
	s.SetNumber(params.KeyKd, 0.1)
	s.SetNumber(params.KeyOutputDampening, 30)
	s.SetNumber(params.KeyErrorDampening, 15)
	s.SetNumber(params.KeyHysteresis, 25)
	samples := []float64{800, 640, 410, 90, -150, -620, -300, 10, 45, 1200, 980, -40}

	run := func() []model.Command {
		c := NewComputer(s)
		out := make([]model.Command, len(samples))
		for i, g := range samples {
			out[i] = c.Compute(model.StrategySelfConsumption, Inputs{GridPowerW: g})
		}
		return out
	}
	first, second := run(), run()
	require.Equal(t, first, second)
	assert.Equal(t, model.ModeDischarge, first[0].Mode)
}

func TestRegulatorDampening(t *testing.T) {
	g := Gains{Kp: 1, OutputDamp: 0.5, ErrorDamp: 0.5}
	var mem RegulatorMemory
	cmd := Regulate(&mem, g, 400)
	// error 400 damped against 0 gives 200, output 200 damped against 0 gives 100
	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 100}, cmd)
	assert.Equal(t, 200.0, mem.PrevError)
	assert.Equal(t, 100.0, mem.PrevOutput)
}

func TestRegulatorIntegralIsUnbounded(t *testing.T) {
	g := Gains{Ki: 1}
	var mem RegulatorMemory
	for i := 0; i < 1000; i++ {
		Regulate(&mem, g, 1000)
	}
	assert.Equal(t, 1e6, mem.Integral)
	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 65535}, Regulate(&mem, g, 0))
}

func TestComputeFullStop(t *testing.T) {
	c := NewComputer(params.NewStore())
	assert.Equal(t, model.Stop, c.Compute(model.StrategyFullStop, Inputs{GridPowerW: 3000}))
	assert.Equal(t, RegulatorMemory{}, c.Memory())
}

func TestComputeCharge(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeyChargeTargetW, 1800)
	c := NewComputer(s)

	assert.Equal(t, model.Command{Mode: model.ModeCharge, PowerW: 1800},
		c.Compute(model.StrategyCharge, Inputs{AvgSoC: 100}), "no goal never stops")

	s.SetText(params.KeyChargeGoal, GoalSoC)
	assert.Equal(t, model.Stop, c.Compute(model.StrategyCharge, Inputs{AvgSoC: 100}), "default target 100")
	s.SetNumber(params.KeyChargeTargetSoC, 80)
	assert.Equal(t, model.Stop, c.Compute(model.StrategyCharge, Inputs{AvgSoC: 80}))
	assert.Equal(t, model.ModeCharge, c.Compute(model.StrategyCharge, Inputs{AvgSoC: 79.9}).Mode)

	s.SetText(params.KeyChargeGoal, GoalEnergy)
	s.SetNumber(params.KeyChargeTargetKWh, 4.5)
	assert.Equal(t, model.Stop, c.Compute(model.StrategyCharge, Inputs{TotalEnergyKWh: 4.5}))
	assert.Equal(t, model.ModeCharge, c.Compute(model.StrategyCharge, Inputs{TotalEnergyKWh: 4.4}).Mode)

	s.SetNumber(params.KeyChargeTargetW, -200)
	assert.Equal(t, model.Command{Mode: model.ModeCharge}, c.Compute(model.StrategyCharge, Inputs{}))
}

func TestComputeSell(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeySellTargetW, 2200)
	s.SetText(params.KeySellGoal, GoalSoC)
	c := NewComputer(s)

	assert.Equal(t, model.Stop, c.Compute(model.StrategySell, Inputs{AvgSoC: 12}), "default target 12")
	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 2200}, c.Compute(model.StrategySell, Inputs{AvgSoC: 40}))

	s.SetText(params.KeySellGoal, GoalEnergy)
	s.SetNumber(params.KeySellTargetKWh, 1)
	assert.Equal(t, model.Stop, c.Compute(model.StrategySell, Inputs{TotalEnergyKWh: 0.8}))
	assert.Equal(t, model.ModeDischarge, c.Compute(model.StrategySell, Inputs{TotalEnergyKWh: 1.2}).Mode)
}

func TestComputeChargePV(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeyHysteresis, 100)
	c := NewComputer(s)

	assert.Equal(t, model.Command{Mode: model.ModeCharge, PowerW: 650}, c.Compute(model.StrategyChargePV, Inputs{GridPowerW: -650}))
	assert.Equal(t, model.Stop, c.Compute(model.StrategyChargePV, Inputs{GridPowerW: -100}))
	assert.Equal(t, model.Stop, c.Compute(model.StrategyChargePV, Inputs{GridPowerW: 400}))
	assert.Equal(t, model.Command{Mode: model.ModeCharge, PowerW: ChargePVCeilingW}, c.Compute(model.StrategyChargePV, Inputs{GridPowerW: -25000}))
	assert.Equal(t, RegulatorMemory{}, c.Memory())
}

func TestComputeUnknownRunsRegulator(t *testing.T) {
	s := params.NewStore()
	s.SetNumber(params.KeyKp, 1)
	c := NewComputer(s)
	assert.Equal(t, model.Command{Mode: model.ModeCharge, PowerW: 300}, c.Compute(model.StrategyUnknown, Inputs{GridPowerW: -300}))
}
