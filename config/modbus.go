package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/marstek/core/modbus"
)

// UnitConfig is the Modbus endpoint of one battery. The position in the list
// is the 1-based index used by per-unit parameter keys.
type UnitConfig struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	UnitID    int    `json:"unit_id"`
	TimeoutMS int    `json:"timeout_ms"`
}

// ClientConfig converts the entry into a register client configuration.
func (u UnitConfig) ClientConfig() modbus.Config {
	return modbus.Config{
		Host:    u.Host,
		Port:    u.Port,
		UnitID:  byte(u.UnitID),
		Timeout: time.Duration(u.TimeoutMS) * time.Millisecond,
	}
}

// ModbusConfig lists the batteries of the fleet.
type ModbusConfig struct {
	Units []UnitConfig `json:"units"`
}

// SetDefaults applies port 502, unit id 1, a one second timeout and
// "battery N" names.
func (c *ModbusConfig) SetDefaults() {
	for i := range c.Units {
		u := &c.Units[i]
		if u.Name == "" {
			u.Name = fmt.Sprintf("battery %d", i+1)
		}
		if u.Port == 0 {
			u.Port = 502
		}
		if u.UnitID == 0 {
			u.UnitID = 1
		}
		if u.TimeoutMS <= 0 {
			u.TimeoutMS = int(modbus.DefaultTimeout / time.Millisecond)
		}
	}
}

// Validate checks that at least one unit is configured and every entry is
// reachable and uniquely named.
func (c ModbusConfig) Validate() error {
	if len(c.Units) == 0 {
		return errors.New("modbus: at least one unit is required")
	}
	var errs error
	seen := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if u.Host == "" {
			errs = errors.Join(errs, fmt.Errorf("modbus.units[%d]: host is required", i))
		}
		if u.Port <= 0 || u.Port > 65535 {
			errs = errors.Join(errs, fmt.Errorf("modbus.units[%d]: invalid port %d", i, u.Port))
		}
		if u.UnitID < 0 || u.UnitID > 255 {
			errs = errors.Join(errs, fmt.Errorf("modbus.units[%d]: invalid unit_id %d", i, u.UnitID))
		}
		if seen[u.Name] {
			errs = errors.Join(errs, fmt.Errorf("modbus.units[%d]: duplicate name %q", i, u.Name))
		}
		seen[u.Name] = true
	}
	return errs
}
