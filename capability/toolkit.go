// Package capability resolves the capabilities a remote node declares into
// local handler factories, and defines the contracts handlers are written
// against.
//
// A capability is an interface contract (operations and notifications). The
// server describes each capability of a node with a protocol.CapabilityDescriptor;
// a Resolver looks the descriptor up in a Registry and, when the local handler
// is compatible, returns the HandlerFactory that builds the client side of it.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/util/conversion"
)

// Toolkit binds a handler to one remote node and the live connection. The
// client package provides the implementation.
type Toolkit interface {
	// NodeID returns the node this toolkit talks to.
	NodeID() protocol.NodeID

	// Invoke performs op on the node and blocks until the result arrives.
	// Remote failures are returned as *protocol.RemoteError, connection
	// failures as *protocol.TransportError.
	Invoke(ctx context.Context, op protocol.OperationType, args ...any) (any, error)

	// RegisterNotificationListener routes notifications of type t to
	// listener. Deliveries happen on the session's dispatcher goroutine.
	RegisterNotificationListener(t protocol.NotificationType, listener NotificationListener) error

	// RemoveNotificationListener stops routing notifications of type t to
	// listener.
	RemoveNotificationListener(t protocol.NotificationType, listener NotificationListener) error

	// Schedule runs task on the dispatcher goroutine after delay.
	Schedule(task func() error, delay time.Duration)

	// Convert decodes a raw result or payload into out.
	Convert(raw any, out any) error

	// Logger returns the node-scoped logger.
	Logger() *slog.Logger
}

// NotificationListener receives notifications routed by a Toolkit.
// Implementations must be comparable since removal is by identity.
type NotificationListener interface {
	HandleNotification(n protocol.Notification) error
}

// Proxy is the view of the client-side proxy a handler is built for.
type Proxy interface {
	NodeID() protocol.NodeID
	Implements(capability string) bool
}

// Handler is the client-side implementation of one capability for one node.
type Handler interface {
	// Invoke performs one of the operations of the capability. Failures of
	// the operation body are returned wrapped in a *TargetError.
	Invoke(ctx context.Context, op protocol.OperationType, args []any) (any, error)
}

// HandlerFactory builds handlers for one capability.
type HandlerFactory interface {
	// Name is the capability name descriptors refer to.
	Name() string
	// Version is the version of the capability this factory implements.
	Version() protocol.HandlerVersion
	// Operations lists every operation the handlers of this factory serve.
	Operations() []protocol.OperationType
	// NewHandler builds a handler bound to proxy and tk.
	NewHandler(proxy Proxy, tk Toolkit) (Handler, error)
}

// Closer is implemented by handlers that hold resources (listener
// registrations, scheduled checks) to release when their proxy is destroyed.
type Closer interface {
	Close() error
}

// TargetError is the envelope a Handler puts around a failure of the
// operation it ran. The interface manager strips it before the error reaches
// a caller.
type TargetError struct {
	Capability string
	Operation  protocol.OperationType
	Err        error
}

// Error implements the error interface.
func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Capability, e.Operation.Name, e.Err)
}

// Unwrap returns the original failure.
func (e *TargetError) Unwrap() error {
	return e.Err
}

// Call invokes op through tk and converts the result to T.
func Call[T any](ctx context.Context, tk Toolkit, op protocol.OperationType, args ...any) (T, error) {
	raw, err := tk.Invoke(ctx, op, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := conversion.To[T](tk.Convert, raw)
	if err != nil {
		return out, fmt.Errorf("%s returned %T: %w", op.Name, raw, err)
	}
	return out, nil
}
