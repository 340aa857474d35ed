package stack

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"nvmcode-go/nvm"
)

// BuildInput is handed to a device builder.
type BuildInput struct {
	ID     string
	Parent nvm.Device // nil for root devices
	Params *yaml.Node // nil when the entry carries no params block
}

// decode unpacks the params block into a builder-specific struct. A missing
// block decodes into the zero value so builders with sensible defaults need
// no params at all.
func (in BuildInput) decode(out any) error {
	if in.Params == nil || in.Params.Kind == 0 {
		return nil
	}
	if err := in.Params.Decode(out); err != nil {
		return fmt.Errorf("device %q: params: %w", in.ID, err)
	}
	return nil
}

// Builder constructs a device from its config entry. The returned device is
// constructed but not started; the stack starts parents first.
type Builder interface {
	Build(in BuildInput) (nvm.Device, error)
}

// BuilderFunc adapts a plain function to Builder.
type BuilderFunc func(in BuildInput) (nvm.Device, error)

func (f BuilderFunc) Build(in BuildInput) (nvm.Device, error) { return f(in) }

var (
	muBuilders sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder installs a builder for a device type string.
// It panics on duplicate registration to catch mistakes at start-up.
func RegisterBuilder(deviceType string, b Builder) {
	muBuilders.Lock()
	defer muBuilders.Unlock()
	if deviceType == "" {
		panic("stack: empty device type for builder")
	}
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("stack: builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

func findBuilder(deviceType string) (Builder, bool) {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}
