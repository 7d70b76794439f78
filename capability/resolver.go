package capability

import (
	"log/slog"

	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/protocol"
)

// Resolver turns capability descriptors into handler factories.
//
// Resolution of a single descriptor never fails the caller: a capability
// whose implementation is missing locally, or whose major version differs,
// is logged and left out. Servers and clients are upgraded independently, so
// a node keeps working with whatever subset of its capabilities both sides
// understand.
type Resolver struct {
	classes ClassResolver
	logger  *slog.Logger
}

// NewResolver creates a Resolver over classes.
func NewResolver(classes ClassResolver, logger *slog.Logger) *Resolver {
	return &Resolver{
		classes: classes,
		logger:  logx.OrDiscard(logger),
	}
}

// Resolve returns the factory for d, or false when the capability is
// unavailable.
func (r *Resolver) Resolve(d protocol.CapabilityDescriptor) (HandlerFactory, bool) {
	if err := d.Validate(); err != nil {
		r.logger.Warn("Ignoring invalid capability descriptor", "error", err)
		return nil, false
	}

	switch d.Kind {
	case protocol.DescriptorVanilla:
		return r.resolveVanilla(d)
	default:
		return r.resolveNamed(d)
	}
}

func (r *Resolver) resolveNamed(d protocol.CapabilityDescriptor) (HandlerFactory, bool) {
	constructor, ok := r.classes.FactoryFor(d.Name)
	if !ok {
		r.logger.Warn("No handler factory for capability, capability unavailable",
			"capability", d.Name, "version", d.Version)
		return nil, false
	}

	factory, ok := r.instantiate(d.Name, constructor)
	if !ok {
		return nil, false
	}

	local := factory.Version()
	if !local.Compatible(d.Version) {
		r.logger.Warn("Capability version mismatch, capability unavailable",
			"capability", d.Name, "remote", d.Version, "local", local)
		return nil, false
	}
	if local.Minor != d.Version.Minor {
		r.logger.Info("Capability minor version differs",
			"capability", d.Name, "remote", d.Version, "local", local)
	}
	return factory, true
}

func (r *Resolver) instantiate(name string, constructor func() HandlerFactory) (factory HandlerFactory, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Handler factory constructor panicked, capability unavailable",
				"capability", name, "panic", p)
			factory, ok = nil, false
		}
	}()

	factory = constructor()
	if factory == nil {
		r.logger.Warn("Handler factory constructor returned nil, capability unavailable", "capability", name)
		return nil, false
	}
	return factory, true
}

func (r *Resolver) resolveVanilla(d protocol.CapabilityDescriptor) (HandlerFactory, bool) {
	spec, ok := r.classes.InterfaceFor(d.Name)
	if !ok {
		r.logger.Warn("No interface for vanilla capability, capability unavailable", "capability", d.Name)
		return nil, false
	}
	return NewForwardingFactory(spec), true
}

// ResolveAll resolves every descriptor independently and returns the
// factories that resolved, in descriptor order.
func (r *Resolver) ResolveAll(descriptors []protocol.CapabilityDescriptor) []HandlerFactory {
	factories := make([]HandlerFactory, 0, len(descriptors))
	for _, d := range descriptors {
		if f, ok := r.Resolve(d); ok {
			factories = append(factories, f)
		}
	}
	r.logger.Debug("Resolved capabilities", "declared", len(descriptors), "usable", len(factories))
	return factories
}
