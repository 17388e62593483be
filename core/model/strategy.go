package model

// Strategy selects how the controller derives the aggregate battery command.
type Strategy int

const (
	StrategyFullStop Strategy = iota
	StrategySelfConsumption
	StrategyTimed
	StrategyDynamic
	StrategyCharge
	StrategyChargePV
	StrategySell
	StrategyUnknown
)

var strategyNames = map[Strategy]string{
	StrategyFullStop:        "Full stop",
	StrategySelfConsumption: "Self-consumption",
	StrategyTimed:           "Timed",
	StrategyDynamic:         "Dynamic",
	StrategyCharge:          "Charge",
	StrategyChargePV:        "Charge PV",
	StrategySell:            "Sell",
}

// String returns the operator-facing label of the strategy.
func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "Unknown"
}

// IsMeta reports whether the strategy must be resolved to a concrete one
// before a command can be computed.
func (s Strategy) IsMeta() bool {
	return s == StrategyTimed || s == StrategyDynamic
}

// ParseStrategy maps a configured selection to a Strategy. Unrecognized text
// yields StrategyUnknown.
func ParseStrategy(name string) Strategy {
	for s, n := range strategyNames {
		if n == name {
			return s
		}
	}
	return StrategyUnknown
}

// ParseSubStrategy is ParseStrategy restricted to concrete strategies. Timed
// and Dynamic cannot nest, so their labels yield StrategyUnknown here.
func ParseSubStrategy(name string) Strategy {
	s := ParseStrategy(name)
	if s.IsMeta() {
		return StrategyUnknown
	}
	return s
}

// MasterMode tells who is in charge of the batteries.
type MasterMode int

const (
	MasterManual MasterMode = iota
	MasterMarstek
	MasterFull
	MasterUnknown
)

// String returns the operator-facing label of the master mode.
func (m MasterMode) String() string {
	switch m {
	case MasterManual:
		return "Manual control"
	case MasterMarstek:
		return "Marstek control"
	case MasterFull:
		return "Full control"
	default:
		return "Unknown"
	}
}

// ParseMasterMode maps a configured selection to a MasterMode.
func ParseMasterMode(name string) MasterMode {
	switch name {
	case "Manual control":
		return MasterManual
	case "Marstek control":
		return MasterMarstek
	case "Full control":
		return MasterFull
	default:
		return MasterUnknown
	}
}
