package config

import (
	"fmt"
	"time"
)

// ControllerConfig holds the control loop settings.
type ControllerConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (c *ControllerConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 5
	}
}

func (c ControllerConfig) Validate() error {
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("controller: interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	return nil
}

// Interval returns the cycle period.
func (c ControllerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
