// Package simulator serves a simulated Marstek battery over Modbus TCP. It
// backs the simulate command and the register client integration tests.
package simulator

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/infra/logger"
)

// Simulator holds the register state of one inverter and integrates the
// commanded power into the battery model.
type Simulator struct {
	name string
	log  logger.Logger

	mu           sync.Mutex
	bat          *Battery
	remote       uint16
	run          uint16
	chargeW      uint16
	dischargeW   uint16
	workMode     uint16
	maxCharge    uint16
	maxDischarge uint16
	powerW       float64
	writes       int

	srv *mbserver.Server
}

// New returns a simulator around bat. Remote control starts disabled and the
// ceilings start at the battery's hardware limits.
func New(name string, bat *Battery) *Simulator {
	if bat == nil {
		bat = NewBattery(50)
	}
	return &Simulator{
		name:         name,
		log:          logger.New("simulator"),
		bat:          bat,
		remote:       battery.RemoteControlOff,
		maxCharge:    uint16(math.Min(bat.MaxChargeW, math.MaxUint16)),
		maxDischarge: uint16(math.Min(bat.MaxDischargeW, math.MaxUint16)),
	}
}

// Listen starts serving on addr, e.g. "127.0.0.1:5020".
func (s *Simulator) Listen(addr string) error {
	srv := mbserver.NewServer()
	srv.RegisterFunctionHandler(3, s.handleRead)
	srv.RegisterFunctionHandler(6, s.handleWrite)
	if err := srv.ListenTCP(addr); err != nil {
		return err
	}
	s.srv = srv
	s.log.Infof("%s listening on %s", s.name, addr)
	return nil
}

// Close stops the server.
func (s *Simulator) Close() {
	if s.srv != nil {
		s.srv.Close()
	}
}

// Run advances the battery model every tick until ctx is done.
func (s *Simulator) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}

// Step integrates the currently commanded power over dt.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powerW = s.bat.ApplyPower(s.target(), dt)
}

// target returns the commanded battery power, positive when discharging.
func (s *Simulator) target() float64 {
	if s.remote != battery.RemoteControlOn {
		return 0
	}
	switch s.run {
	case battery.RunCharge:
		return -float64(min(s.chargeW, s.maxCharge))
	case battery.RunDischarge:
		return float64(min(s.dischargeW, s.maxDischarge))
	default:
		return 0
	}
}

// State is a copy of the simulated inverter registers.
type State struct {
	SoC           float64
	EnergyKWh     float64
	PowerW        float64
	RemoteControl bool
	RunState      uint16
	ChargeW       uint16
	DischargeW    uint16
	WorkMode      uint16
	MaxChargeW    uint16
	MaxDischargeW uint16
	Writes        int
}

// State returns the current register state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		SoC:           s.bat.SoC,
		EnergyKWh:     s.bat.EnergyKWh(),
		PowerW:        s.powerW,
		RemoteControl: s.remote == battery.RemoteControlOn,
		RunState:      s.run,
		ChargeW:       s.chargeW,
		DischargeW:    s.dischargeW,
		WorkMode:      s.workMode,
		MaxChargeW:    s.maxCharge,
		MaxDischargeW: s.maxDischarge,
		Writes:        s.writes,
	}
}

// Read returns count registers starting at addr. Unknown addresses fail.
func (s *Simulator) Read(addr, count uint16) ([]uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, 0, count)
	for i := uint16(0); i < count; i++ {
		v, ok := s.register(addr + i)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func (s *Simulator) register(addr uint16) (uint16, bool) {
	ac := int32(math.Round(s.bat.ACPower(s.powerW)))
	switch addr {
	case battery.RegBatteryPower:
		return uint16(int16(math.Round(s.powerW))), true
	case battery.RegTotalEnergy:
		return uint16(math.Min(math.Round(s.bat.EnergyKWh()*1000), math.MaxUint16)), true
	case battery.RegACPower:
		return uint16(uint32(ac) >> 16), true
	case battery.RegACPower + 1:
		return uint16(uint32(ac)), true
	case battery.RegSoC:
		return uint16(math.Round(s.bat.SoC * 10)), true
	case battery.RegRemoteControl:
		return s.remote, true
	case battery.RegRunState:
		return s.run, true
	case battery.RegChargePower:
		return s.chargeW, true
	case battery.RegDischargePower:
		return s.dischargeW, true
	case battery.RegWorkMode:
		return s.workMode, true
	case battery.RegMaxChargePower:
		return s.maxCharge, true
	case battery.RegMaxDischargePower:
		return s.maxDischarge, true
	default:
		return 0, false
	}
}

// Write stores value at addr. Read-only and unknown addresses fail.
func (s *Simulator) Write(addr, value uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch addr {
	case battery.RegRemoteControl:
		if value != battery.RemoteControlOn && value != battery.RemoteControlOff {
			return false
		}
		s.remote = value
	case battery.RegRunState:
		if value > battery.RunDischarge {
			return false
		}
		s.run = value
	case battery.RegChargePower:
		s.chargeW = value
	case battery.RegDischargePower:
		s.dischargeW = value
	case battery.RegWorkMode:
		s.workMode = value
	case battery.RegMaxChargePower:
		s.maxCharge = value
	case battery.RegMaxDischargePower:
		s.maxDischarge = value
	default:
		return false
	}
	s.writes++
	return true
}

func (s *Simulator) handleRead(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	count := binary.BigEndian.Uint16(data[2:4])
	if count == 0 || count > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	regs, ok := s.Read(addr, count)
	if !ok {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	out := make([]byte, 1, 1+2*len(regs))
	out[0] = byte(2 * len(regs))
	for _, r := range regs {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out, &mbserver.Success
}

func (s *Simulator) handleWrite(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	if !s.Write(addr, value) {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	return data[0:4], &mbserver.Success
}
