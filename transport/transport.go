// Package transport defines the connection a client session talks to a job
// server through.
//
// This package holds the RemoteConnection contract, the listener bookkeeping
// shared by implementations, and retry backoff strategies. Implementations
// live in the inmemory and websocket subpackages.
package transport

import (
	"context"

	"github.com/localrivet/jobwire/protocol"
)

// RawListener receives every notification event for the node it was
// registered on, before any demultiplexing by type. Implementations must be
// comparable (pointer types) since removal is by identity.
type RawListener interface {
	HandleNotification(event protocol.NotificationEvent)
}

// RemoteConnection is a point-to-point connection to a job server.
//
// Invoke distinguishes a failure of the operation itself, reported as a
// *protocol.RemoteError, from a failure to reach the node, reported as a
// *protocol.TransportError.
type RemoteConnection interface {
	// Describe returns the capability descriptors of a node, in the order the
	// server declares them.
	Describe(ctx context.Context, node protocol.NodeID) ([]protocol.CapabilityDescriptor, error)

	// Invoke calls an operation on a node and returns its decoded result.
	Invoke(ctx context.Context, node protocol.NodeID, operation string, signature []string, args []any) (any, error)

	// AddNotificationListener subscribes listener to all events of node.
	AddNotificationListener(ctx context.Context, node protocol.NodeID, listener RawListener) error

	// RemoveNotificationListener cancels a subscription made with
	// AddNotificationListener.
	RemoveNotificationListener(ctx context.Context, node protocol.NodeID, listener RawListener) error

	// Close releases the connection. Pending calls fail.
	Close() error
}
