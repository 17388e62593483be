package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/core/model"
	coremqtt "github.com/kilianp07/marstek/core/mqtt"
	"github.com/kilianp07/marstek/infra/logger"
)

// UnitState is the retained JSON document published per battery. Unknown
// measurements are null.
type UnitState struct {
	CycleID       string   `json:"cycle_id"`
	PowerW        *float64 `json:"power_w"`
	SoC           *float64 `json:"soc"`
	EnergyKWh     *float64 `json:"energy_kwh"`
	ACPowerW      *float64 `json:"ac_power_w"`
	RemoteControl bool     `json:"remote_control"`
	Mode          string   `json:"mode"`
	CommandW      uint16   `json:"command_w"`
	MaxChargeW    uint16   `json:"max_charge_w"`
	MaxDischargeW uint16   `json:"max_discharge_w"`
	Time          string   `json:"time"`
}

// ControllerState is the retained JSON document published after each cycle.
type ControllerState struct {
	CycleID        string             `json:"cycle_id"`
	MasterMode     string             `json:"master_mode"`
	Strategy       string             `json:"strategy"`
	Mode           string             `json:"mode"`
	CommandW       uint16             `json:"command_w"`
	GridPowerW     *float64           `json:"grid_power_w"`
	AvgSoC         *float64           `json:"avg_soc"`
	TotalEnergyKWh *float64           `json:"total_energy_kwh"`
	Outcome        string             `json:"outcome"`
	DurationMS     int64              `json:"duration_ms"`
	Assignments    map[string]float64 `json:"assignments"`
	Errors         map[string]string  `json:"errors,omitempty"`
	Time           string             `json:"time"`
}

// HassConfig is a Home Assistant MQTT discovery payload.
type HassConfig struct {
	DeviceClass       string     `json:"dev_cla,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_meas,omitempty"`
	Name              string     `json:"name"`
	StateTopic        string     `json:"stat_t"`
	ValueTemplate     string     `json:"val_tpl"`
	AvailabilityTopic string     `json:"avty_t"`
	UniqueID          string     `json:"uniq_id"`
	StateClass        string     `json:"stat_cla,omitempty"`
	Device            HassDevice `json:"dev"`
}

// HassDevice groups discovered sensors under one device.
type HassDevice struct {
	IDs          string `json:"ids"`
	Name         string `json:"name"`
	Manufacturer string `json:"mf,omitempty"`
	Model        string `json:"mdl,omitempty"`
}

type sensor struct {
	id, name, class, unit, stateClass, field string
}

var unitSensors = []sensor{
	{"power", "Power", "power", "W", "measurement", "power_w"},
	{"soc", "State of charge", "battery", "%", "measurement", "soc"},
	{"energy", "Total energy", "energy", "kWh", "total_increasing", "energy_kwh"},
	{"ac_power", "AC power", "power", "W", "measurement", "ac_power_w"},
	{"command", "Command power", "power", "W", "measurement", "command_w"},
	{"mode", "Command mode", "", "", "", "mode"},
}

var controllerSensors = []sensor{
	{"strategy", "Strategy", "", "", "", "strategy"},
	{"master_mode", "Master mode", "", "", "", "master_mode"},
	{"command", "Fleet command power", "power", "W", "measurement", "command_w"},
	{"mode", "Fleet command mode", "", "", "", "mode"},
	{"grid_power", "Grid power", "power", "W", "measurement", "grid_power_w"},
	{"avg_soc", "Average state of charge", "battery", "%", "measurement", "avg_soc"},
	{"outcome", "Last cycle outcome", "", "", "", "outcome"},
}

// StatePublisher is a metrics sink publishing fleet state to MQTT, with
// optional Home Assistant discovery.
type StatePublisher struct {
	client    coremqtt.Client
	cfg       Config
	logger    logger.Logger
	mu        sync.Mutex
	announced map[string]bool
}

var _ coremetrics.MetricsSink = (*StatePublisher)(nil)

// NewStatePublisher returns a publisher using cfg's topic and discovery
// prefixes.
func NewStatePublisher(client coremqtt.Client, cfg Config) (*StatePublisher, error) {
	if client == nil {
		return nil, errors.New("mqtt: nil client")
	}
	cfg.SetDefaults()
	return &StatePublisher{
		client:    client,
		cfg:       cfg,
		logger:    logger.New("mqtt_state"),
		announced: make(map[string]bool),
	}, nil
}

// UnitTopic returns the state topic of a battery.
func (p *StatePublisher) UnitTopic(unit string) string {
	return p.cfg.TopicPrefix + "/battery/" + slug(unit) + "/state"
}

// ControllerTopic returns the controller state topic.
func (p *StatePublisher) ControllerTopic() string {
	return p.cfg.TopicPrefix + "/controller/state"
}

// RecordUnitState publishes the snapshot of one battery.
func (p *StatePublisher) RecordUnitState(ev coremetrics.UnitStateEvent) error {
	topic := p.UnitTopic(ev.Unit)
	if err := p.announce("battery_"+slug(ev.Unit), "Marstek "+ev.Unit, topic, unitSensors); err != nil {
		p.logger.Warnf("discovery for %s: %v", ev.Unit, err)
	}
	st := UnitState{
		CycleID:       ev.CycleID,
		PowerW:        known(ev.PowerW),
		SoC:           known(ev.SoC),
		EnergyKWh:     known(ev.EnergyKWh),
		ACPowerW:      known(ev.ACPowerW),
		RemoteControl: ev.RemoteControl,
		Mode:          ev.Command.Mode.String(),
		CommandW:      ev.Command.PowerW,
		MaxChargeW:    ev.MaxChargeW,
		MaxDischargeW: ev.MaxDischargeW,
		Time:          ev.Time.UTC().Format(time.RFC3339),
	}
	return p.publishJSON(topic, st)
}

// RecordCycle publishes the controller state after a cycle.
func (p *StatePublisher) RecordCycle(ev coremetrics.CycleEvent) error {
	topic := p.ControllerTopic()
	if err := p.announce("controller", "Marstek controller", topic, controllerSensors); err != nil {
		p.logger.Warnf("controller discovery: %v", err)
	}
	st := ControllerState{
		CycleID:        ev.CycleID,
		MasterMode:     ev.MasterMode.String(),
		Strategy:       ev.Strategy.String(),
		Mode:           ev.Command.Mode.String(),
		CommandW:       ev.Command.PowerW,
		GridPowerW:     known(ev.GridPowerW),
		AvgSoC:         known(ev.AvgSoC),
		TotalEnergyKWh: known(ev.TotalEnergyKWh),
		Outcome:        ev.Outcome,
		DurationMS:     ev.Duration.Milliseconds(),
		Assignments:    make(map[string]float64, len(ev.Assignments)),
		Time:           ev.Time.UTC().Format(time.RFC3339),
	}
	for _, a := range ev.Assignments {
		st.Assignments[a.Unit] = signed(a.Command)
		if a.Error != "" {
			if st.Errors == nil {
				st.Errors = make(map[string]string)
			}
			st.Errors[a.Unit] = a.Error
		}
	}
	return p.publishJSON(topic, st)
}

func (p *StatePublisher) announce(device, name, stateTopic string, sensors []sensor) error {
	if !p.cfg.Discovery {
		return nil
	}
	p.mu.Lock()
	done := p.announced[device]
	p.mu.Unlock()
	if done {
		return nil
	}
	dev := HassDevice{IDs: "marstek_" + device, Name: name, Manufacturer: "Marstek", Model: "Venus"}
	var errs error
	for _, s := range sensors {
		cfg := HassConfig{
			DeviceClass:       s.class,
			UnitOfMeasurement: s.unit,
			Name:              s.name,
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json." + s.field + " }}",
			AvailabilityTopic: p.cfg.AvailabilityTopic(),
			UniqueID:          "marstek_" + device + "_" + s.id,
			StateClass:        s.stateClass,
			Device:            dev,
		}
		topic := fmt.Sprintf("%s/sensor/marstek_%s/%s/config", p.cfg.DiscoveryPrefix, device, s.id)
		errs = errors.Join(errs, p.publishJSON(topic, cfg))
	}
	if errs == nil {
		p.mu.Lock()
		p.announced[device] = true
		p.mu.Unlock()
	}
	return errs
}

func (p *StatePublisher) publishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return p.client.Publish(topic, b, true)
}

func known(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func signed(c model.Command) float64 {
	switch c.Mode {
	case model.ModeCharge:
		return -float64(c.PowerW)
	case model.ModeDischarge:
		return float64(c.PowerW)
	default:
		return 0
	}
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
