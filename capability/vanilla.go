package capability

import (
	"context"
	"fmt"
	"slices"

	"github.com/localrivet/jobwire/protocol"
)

// ForwardingFactory serves a plain interface by forwarding each operation to
// the node under its own name and signature. It has no version.
type ForwardingFactory struct {
	spec InterfaceSpec
}

var _ HandlerFactory = (*ForwardingFactory)(nil)

// NewForwardingFactory creates a factory for spec.
func NewForwardingFactory(spec InterfaceSpec) *ForwardingFactory {
	return &ForwardingFactory{spec: spec}
}

// Name implements HandlerFactory.
func (f *ForwardingFactory) Name() string { return f.spec.Name }

// Version implements HandlerFactory.
func (f *ForwardingFactory) Version() protocol.HandlerVersion { return protocol.HandlerVersion{} }

// Operations implements HandlerFactory.
func (f *ForwardingFactory) Operations() []protocol.OperationType {
	return slices.Clone(f.spec.Operations)
}

// NewHandler implements HandlerFactory.
func (f *ForwardingFactory) NewHandler(_ Proxy, tk Toolkit) (Handler, error) {
	if tk == nil {
		return nil, fmt.Errorf("%s: nil toolkit", f.spec.Name)
	}
	return &Forwarder{spec: f.spec, tk: tk}, nil
}

// Forwarder is the handler of a vanilla interface.
type Forwarder struct {
	spec InterfaceSpec
	tk   Toolkit
}

// Interface returns the name of the forwarded interface.
func (f *Forwarder) Interface() string {
	return f.spec.Name
}

// Invoke implements Handler. Errors come from the node, so they are passed on
// as they are.
func (f *Forwarder) Invoke(ctx context.Context, op protocol.OperationType, args []any) (any, error) {
	return f.tk.Invoke(ctx, op, args...)
}

// Call invokes the operation called name that takes len(args) parameters.
func (f *Forwarder) Call(ctx context.Context, name string, args ...any) (any, error) {
	for _, op := range f.spec.Operations {
		if op.Name == name && len(op.Params) == len(args) {
			return f.tk.Invoke(ctx, op, args...)
		}
	}
	return nil, fmt.Errorf("%s has no operation %s with %d parameters", f.spec.Name, name, len(args))
}
