package component

import (
	"sync"

	"github.com/webitel/corehub/internal/corerr"
)

// RegistryState tracks whether mutation is still allowed.
type RegistryState int8

const (
	RegistryStarting RegistryState = iota
	RegistryRunning
)

// Registry is append-only while Starting and frozen once Running, per
// spec §4.F ("registration is append-only during service Starting;
// mutation during Running is disallowed").
type Registry struct {
	mu      sync.RWMutex
	state   RegistryState
	entries []Component
	byName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends c in registration order. Returns KindRepeat for a
// duplicate name, KindState once the registry has been frozen.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RegistryStarting {
		return corerr.New(corerr.KindState, "registry is frozen")
	}
	if _, exists := r.byName[c.Name()]; exists {
		return corerr.New(corerr.KindRepeat, "component already registered: "+c.Name())
	}
	r.byName[c.Name()] = len(r.entries)
	r.entries = append(r.entries, c)
	return nil
}

// Freeze transitions the registry to Running; further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RegistryRunning
}

// Get looks up a component by name in O(1) average.
func (r *Registry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.entries[idx], true
}

// InOrder returns all components in registration order.
func (r *Registry) InOrder() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, len(r.entries))
	copy(out, r.entries)
	return out
}

// ReverseOrder returns all components in reverse registration order, used
// for OnStop per spec §4.G ("stop components in reverse").
func (r *Registry) ReverseOrder() []Component {
	fwd := r.InOrder()
	out := make([]Component, len(fwd))
	for i, c := range fwd {
		out[len(fwd)-1-i] = c
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
