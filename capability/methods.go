package capability

import (
	"context"
	"fmt"
	"slices"

	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/util/conversion"
)

// OperationFunc is the body of one operation of a handler.
type OperationFunc func(ctx context.Context, args []any) (any, error)

// Methods is a handler's own dispatch table. Handlers embed it, add one
// OperationFunc per operation, and get Invoke for free.
type Methods struct {
	capability string
	ops        []protocol.OperationType
	table      map[string]OperationFunc
}

// NewMethods creates an empty table for a capability.
func NewMethods(capability string) *Methods {
	return &Methods{
		capability: capability,
		table:      make(map[string]OperationFunc),
	}
}

// Add registers fn as the body of op. A later Add for the same operation
// replaces the earlier one.
func (m *Methods) Add(op protocol.OperationType, fn OperationFunc) *Methods {
	key := op.Key()
	if _, exists := m.table[key]; !exists {
		m.ops = append(m.ops, op)
	}
	m.table[key] = fn
	return m
}

// Operations returns the registered operations in registration order.
func (m *Methods) Operations() []protocol.OperationType {
	return slices.Clone(m.ops)
}

// Invoke implements Handler.
func (m *Methods) Invoke(ctx context.Context, op protocol.OperationType, args []any) (any, error) {
	fn, ok := m.table[op.Key()]
	if !ok {
		return nil, fmt.Errorf("%s does not implement %s", m.capability, op)
	}
	result, err := fn(ctx, args)
	if err != nil {
		return nil, &TargetError{Capability: m.capability, Operation: op, Err: err}
	}
	return result, nil
}

// Arg returns args[i] converted to T through tk, or an error naming the
// position when it is missing or has the wrong shape.
func Arg[T any](tk Toolkit, args []any, i int) (T, error) {
	if i >= len(args) {
		var zero T
		return zero, fmt.Errorf("missing argument %d", i)
	}
	out, err := conversion.To[T](tk.Convert, args[i])
	if err != nil {
		return out, fmt.Errorf("argument %d: %w", i, err)
	}
	return out, nil
}
