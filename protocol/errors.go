package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is.
var (
	ErrRemoteFailure    = errors.New("remote operation failed")
	ErrTransportFailure = errors.New("transport failure")
	ErrUnknownNode      = errors.New("unknown remote node")
)

// RPCError wraps ErrorPayload to implement the error interface. It is what a
// transport sees before it classifies a failure.
type RPCError struct {
	ErrorPayload
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error: code=%d, message=%s", e.Code, e.Message)
}

// RemoteError reports that the operation reached the node and failed there.
// Type and Message describe the original failure; Cause holds the original
// error value when the remote side runs in the same process.
type RemoteError struct {
	Node      NodeID
	Operation string
	Type      string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s on %s failed: %s: %s", e.Operation, e.Node, e.Type, e.Message)
	}
	return fmt.Sprintf("%s on %s failed: %s", e.Operation, e.Node, e.Message)
}

// Unwrap returns the original failure.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrRemoteFailure) hold for every RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteFailure
}

// TransportError reports that the remote node could not be reached or the
// exchange could not be completed (connectivity, framing, serialization).
type TransportError struct {
	Op    string
	Node  NodeID
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("transport error during %s on %s: %v", e.Op, e.Node, e.Cause)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrTransportFailure) hold for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

// NewRemoteError creates a RemoteError.
func NewRemoteError(node NodeID, operation, errType, message string, cause error) error {
	return &RemoteError{
		Node:      node,
		Operation: operation,
		Type:      errType,
		Message:   message,
		Cause:     cause,
	}
}

// NewTransportError creates a TransportError.
func NewTransportError(op string, node NodeID, cause error) error {
	return &TransportError{Op: op, Node: node, Cause: cause}
}

// IsRemoteError checks if an error reports a failure of the operation itself.
func IsRemoteError(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr)
}

// IsTransportError checks if an error reports a failure to reach the node.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
