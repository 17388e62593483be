package simulator

import (
	"math"
	"time"
)

// Battery models a home battery with charge/discharge limits. It is not
// safe for concurrent use; Simulator serializes access.
type Battery struct {
	CapacityKWh    float64 // total capacity
	SoC            float64 // state of charge in percent
	MaxChargeW     float64 // hardware charging limit
	MaxDischargeW  float64 // hardware discharging limit
	Efficiency     float64 // one-way AC/DC conversion efficiency (0,1]
	MinSoC, MaxSoC float64 // usable window in percent
}

// NewBattery returns a 5.12 kWh battery with 2500 W limits at socPct.
func NewBattery(socPct float64) *Battery {
	return &Battery{
		CapacityKWh:   5.12,
		SoC:           socPct,
		MaxChargeW:    2500,
		MaxDischargeW: 2500,
		Efficiency:    0.95,
		MinSoC:        0,
		MaxSoC:        100,
	}
}

// EnergyKWh is the energy currently stored.
func (b *Battery) EnergyKWh() float64 { return b.SoC / 100 * b.CapacityKWh }

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means discharge, negative means charging. It returns the
// actual power applied after enforcing limits.
func (b *Battery) ApplyPower(powerW float64, dt time.Duration) float64 {
	hours := dt.Hours()
	if hours <= 0 || b.CapacityKWh <= 0 {
		return 0
	}

	actual := powerW
	if powerW > 0 { // discharge
		if powerW > b.MaxDischargeW {
			actual = b.MaxDischargeW
		}
		maxEnergy := math.Max(b.SoC-b.MinSoC, 0) / 100 * b.CapacityKWh * 1000
		needed := actual * hours
		if needed > maxEnergy {
			needed = maxEnergy
			actual = needed / hours
		}
		b.SoC -= needed / 1000 / b.CapacityKWh * 100
	} else if powerW < 0 { // charge
		p := math.Abs(powerW)
		if p > b.MaxChargeW {
			p = b.MaxChargeW
		}
		avail := math.Max(b.MaxSoC-b.SoC, 0) / 100 * b.CapacityKWh * 1000
		needed := p * hours
		if needed > avail {
			needed = avail
			p = needed / hours
		}
		b.SoC += needed / 1000 / b.CapacityKWh * 100
		actual = -p
	}

	if b.SoC < 0 {
		b.SoC = 0
	}
	if b.SoC > 100 {
		b.SoC = 100
	}
	return actual
}

// ACPower converts a battery side power into the grid side value.
func (b *Battery) ACPower(batteryW float64) float64 {
	eff := b.Efficiency
	if eff <= 0 || eff > 1 {
		eff = 1
	}
	if batteryW >= 0 {
		return batteryW * eff
	}
	return batteryW / eff
}
