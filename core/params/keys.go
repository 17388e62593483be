package params

import "fmt"

// Operator selections.
const (
	KeyStrategy   = "strategy"
	KeyMasterMode = "master_mode"
)

// Live measurements.
const (
	KeyGridPower = "grid_power"
)

// Regulator settings.
const (
	KeyTargetGridPower = "target_grid_power"
	KeyHysteresis      = "hysteresis"
	KeyKp              = "pid_kp"
	KeyKi              = "pid_ki"
	KeyKd              = "pid_kd"
	KeyOutputDampening = "output_dampening"
	KeyErrorDampening  = "error_dampening"
	KeyIdleMinutes     = "idle_minutes"
	KeyPriorityBattery = "priority_battery"
	KeyChargeTargetW   = "charge_target_power"
	KeyChargeTargetSoC = "charge_target_soc"
	KeyChargeTargetKWh = "charge_target_energy"
	KeyChargeGoal      = "charge_goal"
	KeySellTargetW     = "sell_target_power"
	KeySellTargetSoC   = "sell_target_soc"
	KeySellTargetKWh   = "sell_target_energy"
	KeySellGoal        = "sell_goal"
)

// Timed strategy windows. Bounds are minutes since midnight.
const (
	KeyTimedDefault = "timed_default"
	KeyTimedA       = "timed_a"
	KeyTimedB       = "timed_b"
	KeyTimedC       = "timed_c"
	KeyTimedHasB    = "timed_has_b"
	KeyTimedHasC    = "timed_has_c"
	KeyPeriodAStart = "period_a_start"
	KeyPeriodAEnd   = "period_a_end"
	KeyPeriodBStart = "period_b_start"
	KeyPeriodBEnd   = "period_b_end"
	KeyPeriodCStart = "period_c_start"
	KeyPeriodCEnd   = "period_c_end"
)

// Dynamic strategy inputs. Window bounds are Unix seconds.
const (
	KeyDynDefault           = "dyn_default"
	KeyDynCheapest          = "dyn_cheapest"
	KeyDynExpensive         = "dyn_expensive"
	KeyDynAvgCheapest       = "dyn_avg_cheapest"
	KeyDynAvgExpensive      = "dyn_avg_expensive"
	KeyDynThresholdCheapest = "dyn_threshold_cheapest"
	KeyDynThresholdDelta    = "dyn_threshold_delta"
	KeyDynCheapestStart     = "dyn_cheapest_start"
	KeyDynCheapestEnd       = "dyn_cheapest_end"
	KeyDynExpensiveStart    = "dyn_expensive_start"
	KeyDynExpensiveEnd      = "dyn_expensive_end"
)

// Per-unit limit suffixes, see UnitKey.
const (
	UnitChargeCutoff    = "charge_cutoff"
	UnitDischargeCutoff = "discharge_cutoff"
	UnitMaxCharge       = "max_charge_power"
	UnitMaxDischarge    = "max_discharge_power"
)

// UnitKey returns the key of a per-unit setting. n is 1-based.
func UnitKey(n int, setting string) string {
	return fmt.Sprintf("battery.%d.%s", n, setting)
}
