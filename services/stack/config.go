// Package stack builds a tree of NVM devices from a YAML description.
// Each entry names a device type from the builder registry; entries may
// reference another entry as their parent, which yields the layered
// composites (partitioning, EEPROM emulation, alignment shims) without
// wiring them up in code.
package stack

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	ID     string    `yaml:"id"`
	Type   string    `yaml:"type"`
	Parent string    `yaml:"parent"`
	Params yaml.Node `yaml:"params"`
}

// Load parses a YAML stack description. The result is not yet validated.
func Load(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("stack config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads and parses a YAML stack description.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(raw)
}

// Validate checks configuration correctness. It performs declarative
// validation only; builder-specific parameter checks happen at build time.
func Validate(cfg *Config) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("stack config: no devices")
	}

	byID := make(map[string]*DeviceConfig, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("stack config: device %d: empty id", i)
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("stack config: duplicate device id %q", d.ID)
		}
		if _, ok := findBuilder(d.Type); !ok {
			return fmt.Errorf("stack config: device %q: unknown type %q", d.ID, d.Type)
		}
		byID[d.ID] = d
	}

	for _, d := range cfg.Devices {
		if d.Parent == "" {
			continue
		}
		if d.Parent == d.ID {
			return fmt.Errorf("stack config: device %q is its own parent", d.ID)
		}
		if _, ok := byID[d.Parent]; !ok {
			return fmt.Errorf("stack config: device %q: parent %q not defined", d.ID, d.Parent)
		}
	}

	// parent chains must terminate at a root
	for _, d := range cfg.Devices {
		seen := map[string]bool{d.ID: true}
		for p := d.Parent; p != ""; p = byID[p].Parent {
			if seen[p] {
				return fmt.Errorf("stack config: parent cycle through %q", p)
			}
			seen[p] = true
		}
	}
	return nil
}
