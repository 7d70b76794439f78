package client

import (
	"context"
	"slices"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

// Proxy is the client-side object for one remote node. It serves the union
// of the node's resolved capabilities: operations can be invoked directly
// through Invoke, or through a capability's own API obtained with As.
type Proxy struct {
	node         protocol.NodeID
	capabilities []string
	manager      *InterfaceManager
	toolkit      *Toolkit
}

var _ capability.Proxy = (*Proxy)(nil)

// NodeID returns the node this proxy stands for.
func (p *Proxy) NodeID() protocol.NodeID {
	return p.node
}

// Capabilities returns the names of the resolved capabilities.
func (p *Proxy) Capabilities() []string {
	return slices.Clone(p.capabilities)
}

// Implements reports whether the capability called name was resolved.
func (p *Proxy) Implements(name string) bool {
	return slices.Contains(p.capabilities, name)
}

// Operations returns every operation the proxy serves.
func (p *Proxy) Operations() []protocol.OperationType {
	return p.manager.Operations()
}

// Invoke performs op on the node through the capability that declares it.
func (p *Proxy) Invoke(ctx context.Context, op protocol.OperationType, args ...any) (any, error) {
	return p.manager.Invoke(ctx, op, args)
}

// Destroyed reports whether the proxy's toolkit has been destroyed.
func (p *Proxy) Destroyed() bool {
	return p.toolkit.Phase() == PhaseDestroyed
}

// As returns the handler of p that implements T, for typed access to a
// capability:
//
//	st, ok := client.As[state.State](proxy)
func As[T any](p *Proxy) (T, bool) {
	var zero T
	if p == nil || p.manager == nil {
		return zero, false
	}
	for _, h := range p.manager.handlers {
		if typed, ok := h.handler.(T); ok {
			return typed, true
		}
	}
	return zero, false
}
