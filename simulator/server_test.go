package simulator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/logger"
	"github.com/kilianp07/marstek/core/modbus"
	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/internal/testutil"
)

func TestBatteryApplyPower(t *testing.T) {
	b := NewBattery(50)
	got := b.ApplyPower(2000, 30*time.Minute)
	assert.InDelta(t, 2000, got, 1e-9)
	assert.InDelta(t, 50-1000.0/5120*100, b.SoC, 1e-9)

	got = b.ApplyPower(-5000, time.Hour)
	assert.InDelta(t, -2500, got, 1e-9)

	b = NewBattery(99)
	got = b.ApplyPower(-2500, time.Hour)
	assert.InDelta(t, 100, b.SoC, 1e-9)
	assert.InDelta(t, -51.2, got, 1e-9)

	assert.Zero(t, b.ApplyPower(100, 0))
}

func TestSimulatorIgnoresCommandsWithoutRemoteControl(t *testing.T) {
	s := New("a", NewBattery(50))
	require.True(t, s.Write(battery.RegDischargePower, 1000))
	require.True(t, s.Write(battery.RegRunState, battery.RunDischarge))
	s.Step(time.Hour)
	assert.Zero(t, s.State().PowerW)

	require.True(t, s.Write(battery.RegRemoteControl, battery.RemoteControlOn))
	s.Step(time.Minute)
	assert.InDelta(t, 1000, s.State().PowerW, 1e-9)
}

func TestSimulatorHonoursCeilings(t *testing.T) {
	s := New("a", NewBattery(50))
	require.True(t, s.Write(battery.RegRemoteControl, battery.RemoteControlOn))
	require.True(t, s.Write(battery.RegMaxChargePower, 800))
	require.True(t, s.Write(battery.RegChargePower, 2000))
	require.True(t, s.Write(battery.RegRunState, battery.RunCharge))
	s.Step(time.Second)
	assert.InDelta(t, -800, s.State().PowerW, 1e-9)

	regs, ok := s.Read(battery.RegBatteryPower, 1)
	require.True(t, ok)
	assert.Equal(t, int16(-800), int16(regs[0]))

	regs, ok = s.Read(battery.RegACPower, 2)
	require.True(t, ok)
	ac := int32(uint32(regs[0])<<16 | uint32(regs[1]))
	assert.Equal(t, int32(-842), ac)
}

func TestSimulatorRejectsUnknownRegisters(t *testing.T) {
	s := New("a", nil)
	_, ok := s.Read(1, 1)
	assert.False(t, ok)
	assert.False(t, s.Write(battery.RegSoC, 1))
	assert.False(t, s.Write(battery.RegRemoteControl, 7))
	assert.False(t, s.Write(battery.RegRunState, 3))
	assert.Zero(t, s.State().Writes)
}

func TestUnitOverModbusTCP(t *testing.T) {
	sim := New("tcp", NewBattery(60))
	addr := testutil.FreeAddr(t)
	require.NoError(t, sim.Listen(addr))
	defer sim.Close()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := net.LookupPort("tcp", port)
	require.NoError(t, err)

	cli, err := modbus.NewTCPClient(modbus.Config{Host: host, Port: p, UnitID: 1, Timeout: time.Second}, logger.NopLogger{})
	require.NoError(t, err)
	defer cli.Close()

	unit, err := battery.NewUnit("tcp", cli, logger.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, unit.Refresh())
	soc, ok := unit.SoC()
	require.True(t, ok)
	assert.InDelta(t, 60, soc, 1e-9)
	energy, ok := unit.TotalEnergyKWh()
	require.True(t, ok)
	assert.InDelta(t, 3.072, energy, 1e-9)

	require.NoError(t, unit.ApplyCommand(model.Command{Mode: model.ModeDischarge, PowerW: 1200}))
	st := sim.State()
	assert.True(t, st.RemoteControl)
	assert.Equal(t, battery.RunDischarge, st.RunState)
	assert.Equal(t, uint16(1200), st.DischargeW)

	sim.Step(time.Second)
	require.NoError(t, unit.Refresh())
	pw, _ := unit.PowerW()
	assert.InDelta(t, 1200, pw, 1e-9)
	ac, _ := unit.ACPowerW()
	assert.InDelta(t, 1140, ac, 1e-9)

	require.NoError(t, unit.SetChargeLimit(1500))
	assert.Equal(t, uint16(1500), sim.State().MaxChargeW)

	_, err = cli.ReadHoldingRegisters(1, 1)
	assert.ErrorIs(t, err, modbus.ErrFraming)
}
