package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

type route struct {
	op         protocol.OperationType
	capability string
	handler    capability.Handler
}

type boundHandler struct {
	capability string
	handler    capability.Handler
}

// InterfaceManager routes each operation of a node to the handler of the
// capability that declares it.
type InterfaceManager struct {
	node     protocol.NodeID
	keys     []string
	routes   map[string]route
	handlers []boundHandler
}

// ManagerBuilder composes the handlers of one node into an InterfaceManager.
type ManagerBuilder struct {
	proxy     capability.Proxy
	toolkit   capability.Toolkit
	factories []capability.HandlerFactory
}

// NewManagerBuilder creates a builder for the node behind proxy and tk.
func NewManagerBuilder(proxy capability.Proxy, tk capability.Toolkit) *ManagerBuilder {
	return &ManagerBuilder{proxy: proxy, toolkit: tk}
}

// Add appends factories. Order is preserved in the built manager.
func (b *ManagerBuilder) Add(factories ...capability.HandlerFactory) *ManagerBuilder {
	b.factories = append(b.factories, factories...)
	return b
}

// Build instantiates one handler per factory and maps every declared
// operation to it. An operation a factory lists twice is routed once. Two
// factories declaring the same operation make Build fail with a
// *ConflictError; handlers built so far are closed.
func (b *ManagerBuilder) Build() (*InterfaceManager, error) {
	m := &InterfaceManager{
		node:   b.toolkit.NodeID(),
		routes: make(map[string]route),
	}

	for _, f := range b.factories {
		h, err := f.NewHandler(b.proxy, b.toolkit)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("capability %s: %w", f.Name(), err)
		}
		m.handlers = append(m.handlers, boundHandler{capability: f.Name(), handler: h})

		for _, op := range f.Operations() {
			key := op.Key()
			if existing, taken := m.routes[key]; taken {
				if existing.handler == h {
					// Listed twice by the same capability.
					continue
				}
				_ = m.Close()
				return nil, &ConflictError{
					Node:      m.node,
					Operation: op,
					First:     existing.capability,
					Second:    f.Name(),
				}
			}
			m.routes[key] = route{op: op, capability: f.Name(), handler: h}
			m.keys = append(m.keys, key)
		}
	}
	return m, nil
}

// Invoke performs op through the handler that declares it. Failures of the
// operation are returned as the handler's original error.
func (m *InterfaceManager) Invoke(ctx context.Context, op protocol.OperationType, args []any) (any, error) {
	r, ok := m.routes[op.Key()]
	if !ok {
		return nil, &UnsupportedOperationError{Node: m.node, Operation: op}
	}

	result, err := r.handler.Invoke(ctx, op, args)
	if err != nil {
		return nil, unwrapTarget(err)
	}
	return result, nil
}

func unwrapTarget(err error) error {
	for {
		target, ok := err.(*capability.TargetError)
		if !ok || target.Err == nil {
			return err
		}
		err = target.Err
	}
}

// Operations returns every routed operation in registration order.
func (m *InterfaceManager) Operations() []protocol.OperationType {
	ops := make([]protocol.OperationType, len(m.keys))
	for i, key := range m.keys {
		ops[i] = m.routes[key].op
	}
	return ops
}

// Capabilities returns the capability names in factory order.
func (m *InterfaceManager) Capabilities() []string {
	names := make([]string, len(m.handlers))
	for i, h := range m.handlers {
		names[i] = h.capability
	}
	return names
}

// Close releases handlers that hold resources.
func (m *InterfaceManager) Close() error {
	var errs []error
	for _, h := range m.handlers {
		if c, ok := h.handler.(capability.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", h.capability, err))
			}
		}
	}
	return errors.Join(errs...)
}
