package battery

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/marstek/core/logger"
	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/core/modbus"
)

// Limits holds the power ceilings and state-of-charge cutoffs of a unit.
type Limits struct {
	MaxChargeW      uint16
	MaxDischargeW   uint16
	ChargeCutoff    float64 // charging allowed while SoC is below, %
	DischargeCutoff float64 // discharging allowed while SoC is above, %
}

// DefaultLimits returns the limits a unit starts with.
func DefaultLimits() Limits {
	return Limits{MaxChargeW: 2500, MaxDischargeW: 2500, ChargeCutoff: 100, DischargeCutoff: 12}
}

// Snapshot is a copy of the observable state of a unit.
type Snapshot struct {
	Name          string
	PowerW        float64 // NaN when unknown
	SoC           float64 // NaN when unknown
	EnergyKWh     float64 // NaN when unknown
	ACPowerW      float64 // NaN when unknown
	RemoteControl bool
	Last          model.Command
	Limits        Limits
}

// Unit adapts one battery inverter. Measurements keep their last observed
// value when a read fails.
type Unit struct {
	name string
	io   modbus.RegisterIO
	log  logger.Logger

	powerW    float64
	soc       float64
	energyKWh float64
	acPowerW  float64

	limits Limits
	remote bool
	last   model.Command
}

// NewUnit returns a unit talking through io.
func NewUnit(name string, io modbus.RegisterIO, log logger.Logger) (*Unit, error) {
	if io == nil {
		return nil, fmt.Errorf("battery %s: nil register io", name)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	nan := math.NaN()
	return &Unit{
		name:      name,
		io:        io,
		log:       log,
		powerW:    nan,
		soc:       nan,
		energyKWh: nan,
		acPowerW:  nan,
		limits:    DefaultLimits(),
		last:      model.Stop,
	}, nil
}

func (u *Unit) Name() string { return u.name }

// SoC returns the last observed state of charge in percent.
func (u *Unit) SoC() (float64, bool) { return u.soc, !math.IsNaN(u.soc) }

// TotalEnergyKWh returns the last observed cumulative energy.
func (u *Unit) TotalEnergyKWh() (float64, bool) { return u.energyKWh, !math.IsNaN(u.energyKWh) }

// PowerW returns the last observed battery power.
func (u *Unit) PowerW() (float64, bool) { return u.powerW, !math.IsNaN(u.powerW) }

// ACPowerW returns the last observed AC side power.
func (u *Unit) ACPowerW() (float64, bool) { return u.acPowerW, !math.IsNaN(u.acPowerW) }

func (u *Unit) Limits() Limits { return u.limits }

// Configure replaces the cached limits without touching the device.
func (u *Unit) Configure(l Limits) { u.limits = l }

// MaxPower returns the ceiling relevant for mode.
func (u *Unit) MaxPower(mode model.Mode) uint16 {
	switch mode {
	case model.ModeCharge:
		return u.limits.MaxChargeW
	case model.ModeDischarge:
		return u.limits.MaxDischargeW
	default:
		return 0
	}
}

// CanCharge reports whether the SoC is below the charge cutoff. An unknown
// SoC is never eligible.
func (u *Unit) CanCharge() bool { return u.soc < u.limits.ChargeCutoff }

// CanDischarge reports whether the SoC is above the discharge cutoff.
func (u *Unit) CanDischarge() bool { return u.soc > u.limits.DischargeCutoff }

// RemoteControl reports whether remote control was last enabled successfully.
func (u *Unit) RemoteControl() bool { return u.remote }

// LastCommand returns the last command applied to the device.
func (u *Unit) LastCommand() model.Command { return u.last }

// SetRemoteControl enables or disables Modbus control of the inverter.
func (u *Unit) SetRemoteControl(enable bool) error {
	v := RemoteControlOff
	if enable {
		v = RemoteControlOn
	}
	if err := u.io.WriteSingleRegister(RegRemoteControl, v); err != nil {
		return fmt.Errorf("battery %s: remote control %t: %w", u.name, enable, err)
	}
	u.remote = enable
	return nil
}

// SetWorkMode writes the operating mode selector.
func (u *Unit) SetWorkMode(mode uint16) error {
	if err := u.io.WriteSingleRegister(RegWorkMode, mode); err != nil {
		return fmt.Errorf("battery %s: work mode %d: %w", u.name, mode, err)
	}
	return nil
}

// SetChargeLimit writes the charge power ceiling and caches it on success.
func (u *Unit) SetChargeLimit(w uint16) error {
	if err := u.io.WriteSingleRegister(RegMaxChargePower, w); err != nil {
		return fmt.Errorf("battery %s: charge limit: %w", u.name, err)
	}
	u.limits.MaxChargeW = w
	return nil
}

// SetDischargeLimit writes the discharge power ceiling and caches it on
// success.
func (u *Unit) SetDischargeLimit(w uint16) error {
	if err := u.io.WriteSingleRegister(RegMaxDischargePower, w); err != nil {
		return fmt.Errorf("battery %s: discharge limit: %w", u.name, err)
	}
	u.limits.MaxDischargeW = w
	return nil
}

// ApplyCommand drives the inverter to cmd. Remote control is enabled first
// when needed. A command equal to the last applied one is a no-op. The new
// state is recorded only once every write succeeded, so a failed sequence is
// replayed from the start on the next call.
func (u *Unit) ApplyCommand(cmd model.Command) error {
	if !u.remote {
		if err := u.SetRemoteControl(true); err != nil {
			return err
		}
	}
	if cmd.Mode == model.ModeStop {
		cmd.PowerW = 0
	}
	if cmd == u.last {
		return nil
	}

	var writes [][2]uint16
	switch cmd.Mode {
	case model.ModeStop:
		writes = [][2]uint16{{RegRunState, RunStop}}
	case model.ModeCharge:
		writes = [][2]uint16{{RegChargePower, cmd.PowerW}, {RegRunState, RunCharge}}
	case model.ModeDischarge:
		writes = [][2]uint16{{RegDischargePower, cmd.PowerW}, {RegRunState, RunDischarge}}
	default:
		return fmt.Errorf("battery %s: unsupported mode %d", u.name, cmd.Mode)
	}
	for _, w := range writes {
		if err := u.io.WriteSingleRegister(w[0], w[1]); err != nil {
			return fmt.Errorf("battery %s: apply %s: %w", u.name, cmd, err)
		}
	}
	u.log.Debugf("battery %s: applied %s", u.name, cmd)
	u.last = cmd
	return nil
}

// Refresh reads the four measurements. Each read is independent; the
// returned error joins the failures, if any.
func (u *Unit) Refresh() error {
	var errs []error
	read := func(addr, count uint16, apply func([]uint16)) {
		regs, err := u.io.ReadHoldingRegisters(addr, count)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %d: %w", addr, err))
			return
		}
		apply(regs)
	}
	read(RegBatteryPower, 1, func(r []uint16) { u.powerW = float64(int16(r[0])) })
	read(RegSoC, 1, func(r []uint16) { u.soc = float64(r[0]) * socScale })
	read(RegTotalEnergy, 1, func(r []uint16) { u.energyKWh = float64(r[0]) * energyScale })
	read(RegACPower, 2, func(r []uint16) { u.acPowerW = float64(toInt32(r[0], r[1])) })
	if len(errs) > 0 {
		return fmt.Errorf("battery %s: %w", u.name, errors.Join(errs...))
	}
	return nil
}

// Snapshot returns a copy of the unit state for publishing.
func (u *Unit) Snapshot() Snapshot {
	return Snapshot{
		Name:          u.name,
		PowerW:        u.powerW,
		SoC:           u.soc,
		EnergyKWh:     u.energyKWh,
		ACPowerW:      u.acPowerW,
		RemoteControl: u.remote,
		Last:          u.last,
		Limits:        u.limits,
	}
}
