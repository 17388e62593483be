package battery

// Register map of the Marstek Venus inverters. Addresses are used verbatim as
// Modbus PDU addresses.
const (
	RegBatteryPower uint16 = 30001 // int16, W
	RegTotalEnergy  uint16 = 32105 // ×0.001 kWh
	RegACPower      uint16 = 32202 // int32 over two registers, high word first
	RegSoC          uint16 = 34002 // ×0.1 %

	RegRemoteControl     uint16 = 42000
	RegRunState          uint16 = 42010
	RegChargePower       uint16 = 42020
	RegDischargePower    uint16 = 42021
	RegWorkMode          uint16 = 43000
	RegMaxChargePower    uint16 = 44002
	RegMaxDischargePower uint16 = 44003
)

// Values written to RegRemoteControl.
const (
	RemoteControlOn  uint16 = 21930
	RemoteControlOff uint16 = 21947
)

// Values written to RegRunState.
const (
	RunStop      uint16 = 0
	RunCharge    uint16 = 1
	RunDischarge uint16 = 2
)

const (
	socScale    = 0.1
	energyScale = 0.001
)

func toInt32(hi, lo uint16) int32 {
	return int32(uint32(hi)<<16 | uint32(lo))
}
