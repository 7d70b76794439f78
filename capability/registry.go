package capability

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/localrivet/jobwire/protocol"
)

// InterfaceSpec describes a plain interface served by name-and-signature
// forwarding. Vanilla descriptors resolve to one.
type InterfaceSpec struct {
	Name       string
	Operations []protocol.OperationType
}

// ClassResolver finds local implementations by the names descriptors use.
type ClassResolver interface {
	// FactoryFor returns the constructor of the handler factory registered
	// under name.
	FactoryFor(name string) (func() HandlerFactory, bool)
	// InterfaceFor returns the interface registered under name.
	InterfaceFor(name string) (InterfaceSpec, bool)
}

// Registry is an explicitly constructed ClassResolver. A process usually
// builds one at startup, registers the capabilities it knows, and hands it to
// every session.
type Registry struct {
	factories  map[string]func() HandlerFactory
	interfaces map[string]InterfaceSpec
	mu         sync.RWMutex
}

var _ ClassResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[string]func() HandlerFactory),
		interfaces: make(map[string]InterfaceSpec),
	}
}

// Register adds a handler factory constructor under name.
func (r *Registry) Register(name string, constructor func() HandlerFactory) error {
	if name == "" {
		return fmt.Errorf("capability name cannot be empty")
	}
	if constructor == nil {
		return fmt.Errorf("capability %q: constructor cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("capability %q already registered", name)
	}
	r.factories[name] = constructor
	return nil
}

// MustRegister is Register that panics on error, for use during process
// bootstrap.
func (r *Registry) MustRegister(name string, constructor func() HandlerFactory) {
	if err := r.Register(name, constructor); err != nil {
		panic(err)
	}
}

// RegisterInterface adds a vanilla interface under name.
func (r *Registry) RegisterInterface(name string, ops ...protocol.OperationType) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.interfaces[name]; exists {
		return fmt.Errorf("interface %q already registered", name)
	}
	r.interfaces[name] = InterfaceSpec{Name: name, Operations: slices.Clone(ops)}
	return nil
}

// FactoryFor implements ClassResolver.
func (r *Registry) FactoryFor(name string) (func() HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.factories[name]
	return c, ok
}

// InterfaceFor implements ClassResolver.
func (r *Registry) InterfaceFor(name string) (InterfaceSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.interfaces[name]
	if !ok {
		return InterfaceSpec{}, false
	}
	spec.Operations = slices.Clone(spec.Operations)
	return spec, true
}

// Names returns the registered capability and interface names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories)+len(r.interfaces))
	for name := range r.factories {
		names = append(names, name)
	}
	for name := range r.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.factories)
	clear(r.interfaces)
}
