package model

import (
	"fmt"
	"math"
)

// Mode is the run state requested from a battery.
type Mode int

const (
	ModeStop Mode = iota
	ModeCharge
	ModeDischarge
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeStop:
		return "stop"
	case ModeCharge:
		return "charge"
	case ModeDischarge:
		return "discharge"
	default:
		return "unknown"
	}
}

// Command is a mode plus a non-negative power magnitude in watts.
type Command struct {
	Mode   Mode
	PowerW uint16
}

// Stop is the zero-power STOP command.
var Stop = Command{Mode: ModeStop}

// IsIdle reports whether the command leaves the batteries idle.
func (c Command) IsIdle() bool {
	return c.Mode == ModeStop || c.PowerW == 0
}

func (c Command) String() string {
	return fmt.Sprintf("%s/%dW", c.Mode, c.PowerW)
}

// ClampPower converts a watt value into the unsigned register range.
// NaN and negative values become 0.
func ClampPower(w float64) uint16 {
	if math.IsNaN(w) || w <= 0 {
		return 0
	}
	if w >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(w)
}
