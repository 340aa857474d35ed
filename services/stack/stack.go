package stack

import (
	"fmt"

	"nvmcode-go/nvm"
)

// Stack is a built device tree. Devices are started parents-first; Close
// stops them in reverse.
type Stack struct {
	order   []string
	devices map[string]nvm.Device
}

// Build validates the config, constructs every device parents-first and
// starts them. On any failure the devices already started are stopped
// again before the error is returned.
func Build(cfg *Config) (*Stack, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	byID := make(map[string]*DeviceConfig, len(cfg.Devices))
	for i := range cfg.Devices {
		byID[cfg.Devices[i].ID] = &cfg.Devices[i]
	}

	s := &Stack{devices: make(map[string]nvm.Device, len(cfg.Devices))}

	// parents-first: an entry is ready once its parent is built; config
	// order breaks ties, so sibling order is deterministic
	pending := len(cfg.Devices)
	for pending > 0 {
		placed := false
		for i := range cfg.Devices {
			d := &cfg.Devices[i]
			if _, done := s.devices[d.ID]; done {
				continue
			}
			if d.Parent != "" {
				if _, ok := s.devices[d.Parent]; !ok {
					continue
				}
			}
			dev, err := s.build(d)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.devices[d.ID] = dev
			s.order = append(s.order, d.ID)
			pending--
			placed = true
		}
		if !placed {
			// unreachable after Validate's cycle check
			s.Close()
			return nil, fmt.Errorf("stack: unresolvable parent order")
		}
	}
	return s, nil
}

func (s *Stack) build(d *DeviceConfig) (nvm.Device, error) {
	b, _ := findBuilder(d.Type)
	in := BuildInput{ID: d.ID}
	if d.Parent != "" {
		in.Parent = s.devices[d.Parent]
	}
	if d.Params.Kind != 0 {
		in.Params = &d.Params
	}
	dev, err := b.Build(in)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		return nil, fmt.Errorf("device %q: start: %w", d.ID, err)
	}
	return dev, nil
}

// Device returns a built device by id.
func (s *Stack) Device(id string) (nvm.Device, bool) {
	d, ok := s.devices[id]
	return d, ok
}

// Close stops every device, children before parents. The first stop error
// is reported; later devices are still stopped.
func (s *Stack) Close() error {
	var first error
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.devices[s.order[i]].Stop(); err != nil && first == nil {
			first = fmt.Errorf("device %q: stop: %w", s.order[i], err)
		}
	}
	return first
}
