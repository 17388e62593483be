package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/marstek/core/params"
	"github.com/kilianp07/marstek/infra/mqtt"
)

type Config struct {
	Modbus     ModbusConfig     `json:"modbus"`
	Controller ControllerConfig `json:"controller"`
	MQTT       mqtt.Config      `json:"mqtt"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
	// Parameters seeds the parameter store. Keys are flattened with dots, so
	// both "battery.1.max_charge: 2000" and nested maps are accepted.
	Parameters map[string]any `json:"-"`
}

// Load reads a YAML or JSON file, applies K_ prefixed environment overrides
// (K_MQTT__BROKER sets mqtt.broker), fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Parameters = k.Cut("parameters").All()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.Modbus.SetDefaults()
	c.Controller.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	return errors.Join(
		c.Modbus.Validate(),
		c.Controller.Validate(),
		c.MQTT.Validate(),
		c.Logging.Validate(),
	)
}

// ApplyParameters writes the configured parameters into store. Text values go
// through SetRaw so environment overrides such as "0.6" become numbers. Keys
// with unsupported value types are returned.
func (c Config) ApplyParameters(store *params.Store) []string {
	var skipped []string
	for k, v := range c.Parameters {
		if s, ok := v.(string); ok {
			store.SetRaw(k, s)
			continue
		}
		if !store.Set(k, v) {
			skipped = append(skipped, k)
		}
	}
	return skipped
}
