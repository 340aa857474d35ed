package nvm

import "sync"

// Gate is the per-device mutual-exclusion primitive. It is configured once
// at construction; when disabled, Acquire/Release are free no-ops so
// single-context firmware pays nothing for it.
type Gate struct {
	mu      sync.Mutex
	enabled bool
}

// NewGate returns a gate; enabled selects whether it actually locks.
func NewGate(enabled bool) Gate { return Gate{enabled: enabled} }

func (g *Gate) Acquire() {
	if g.enabled {
		g.mu.Lock()
	}
}

func (g *Gate) Release() {
	if g.enabled {
		g.mu.Unlock()
	}
}

// YieldFunc is the "nice waiting" hook: poll loops invoke it between status
// checks so a cooperative scheduler can run other work. nil means tight spin.
type YieldFunc func()

// Pause invokes y when non-nil.
func Pause(y YieldFunc) {
	if y != nil {
		y()
	}
}
