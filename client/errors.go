package client

import (
	"errors"
	"fmt"

	"github.com/localrivet/jobwire/protocol"
)

// Standard error types that can be used with errors.Is()
var (
	ErrNoCapability     = errors.New("no capability supports this operation")
	ErrNoProxy          = errors.New("no proxy could be built for node")
	ErrSessionClosed    = errors.New("session is closed")
	ErrConflict         = errors.New("capabilities declare the same operation")
	ErrListenerConflict = errors.New("another listener is registered for this notification type")
)

// ConflictError reports two capabilities of one node declaring the same
// operation. It is a configuration bug and is not retryable.
type ConflictError struct {
	Node      protocol.NodeID
	Operation protocol.OperationType
	First     string
	Second    string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("node %s: operation %s is declared by both %s and %s",
		e.Node, e.Operation, e.First, e.Second)
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// UnsupportedOperationError reports an invocation of an operation none of
// the node's resolved capabilities serves. It indicates client and server
// disagree on the protocol.
type UnsupportedOperationError struct {
	Node      protocol.NodeID
	Operation protocol.OperationType
}

// Error implements the error interface
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("node %s: %v: %s", e.Node, ErrNoCapability, e.Operation)
}

// Unwrap returns ErrNoCapability.
func (e *UnsupportedOperationError) Unwrap() error {
	return ErrNoCapability
}

// ProxyError reports that no proxy could be built for a node. Only that node
// is affected; the session stays usable.
type ProxyError struct {
	Node  protocol.NodeID
	Cause error
}

// Error implements the error interface
func (e *ProxyError) Error() string {
	return fmt.Sprintf("%v %s: %v", ErrNoProxy, e.Node, e.Cause)
}

// Unwrap returns the underlying cause
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrNoProxy) hold.
func (e *ProxyError) Is(target error) bool {
	return target == ErrNoProxy
}

// IsConflictError checks if an error reports an operation collision
func IsConflictError(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// IsUnsupportedOperationError checks if an error reports a missing capability
func IsUnsupportedOperationError(err error) bool {
	var unsupportedErr *UnsupportedOperationError
	return errors.As(err, &unsupportedErr)
}
