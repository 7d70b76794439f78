// Package inmemory provides an in-process job server and a RemoteConnection
// to it. It backs tests, examples and the jobctl demo command.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
)

// ErrClosed is returned by a Conn after Close.
var ErrClosed = errors.New("connection closed")

// Handler implements one operation of a node.
type Handler func(ctx context.Context, args []any) (any, error)

// Node is a component hosted by a Server.
type Node struct {
	id          protocol.NodeID
	descriptors []protocol.CapabilityDescriptor

	mu  sync.RWMutex
	ops map[string]Handler
}

// ID returns the node identity.
func (n *Node) ID() protocol.NodeID {
	return n.id
}

// Handle registers the handler for an operation name. All signatures of the
// operation are served by the same handler.
func (n *Node) Handle(operation string, h Handler) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops[operation] = h
	return n
}

// Return registers an operation that always returns value.
func (n *Node) Return(operation string, value any) *Node {
	return n.Handle(operation, func(context.Context, []any) (any, error) {
		return value, nil
	})
}

func (n *Node) handler(operation string) (Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.ops[operation]
	return h, ok
}

type sequenceKey struct {
	node protocol.NodeID
	typ  string
}

// Server is an in-process job server.
type Server struct {
	logger *slog.Logger

	mu           sync.RWMutex
	nodes        map[protocol.NodeID]*Node
	sequences    map[sequenceKey]int64
	calls        []protocol.Invocation
	subscribeErr error

	listeners *transport.ListenerSet
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an empty server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		nodes:     make(map[protocol.NodeID]*Node),
		sequences: make(map[sequenceKey]int64),
		listeners: transport.NewListenerSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logx.OrDiscard(s.logger)
	return s
}

// AddNode hosts a node with the given capability descriptors, replacing any
// node with the same identity.
func (s *Server) AddNode(id protocol.NodeID, descriptors ...protocol.CapabilityDescriptor) *Node {
	n := &Node{
		id:          id,
		descriptors: slices.Clone(descriptors),
		ops:         make(map[string]Handler),
	}

	s.mu.Lock()
	s.nodes[id] = n
	s.mu.Unlock()

	return n
}

// RemoveNode stops hosting a node. Listeners stay registered; events for the
// node can still be emitted to simulate in-flight notifications.
func (s *Server) RemoveNode(id protocol.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

// Node returns a hosted node.
func (s *Server) Node(id protocol.NodeID) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// FailSubscriptions makes every later subscribe fail with err. A nil err
// restores normal behavior.
func (s *Server) FailSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// Emit sends an event of type typ from node to every subscribed listener, on
// the calling goroutine, and returns the sequence number it was given.
func (s *Server) Emit(node protocol.NodeID, typ string, data any) int64 {
	s.mu.Lock()
	key := sequenceKey{node: node, typ: typ}
	s.sequences[key]++
	seq := s.sequences[key]
	s.mu.Unlock()

	event := protocol.NotificationEvent{Node: node, Type: typ, Sequence: seq, Data: data}
	reached := s.listeners.Dispatch(event)
	s.logger.Debug("Emitted event", "node", node, "type", typ, "sequence", seq, "listeners", reached)
	return seq
}

// Sequence returns the last sequence number emitted for (node, typ).
func (s *Server) Sequence(node protocol.NodeID, typ string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequences[sequenceKey{node: node, typ: typ}]
}

// Subscribed reports whether node has at least one listener.
func (s *Server) Subscribed(node protocol.NodeID) bool {
	return len(s.listeners.Listeners(node)) > 0
}

// Calls returns every invocation received so far.
func (s *Server) Calls() []protocol.Invocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.calls)
}

// Connect opens a connection to the server.
func (s *Server) Connect() *Conn {
	return &Conn{server: s, owned: transport.NewListenerSet()}
}

// Conn is a transport.RemoteConnection to a Server.
type Conn struct {
	server *Server
	owned  *transport.ListenerSet

	mu     sync.RWMutex
	closed bool
}

var _ transport.RemoteConnection = (*Conn)(nil)

func (c *Conn) check(op string, node protocol.NodeID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return protocol.NewTransportError(op, node, ErrClosed)
	}
	return nil
}

// Describe implements transport.RemoteConnection.
func (c *Conn) Describe(ctx context.Context, node protocol.NodeID) ([]protocol.CapabilityDescriptor, error) {
	if err := c.check(protocol.MethodDescribe, node); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewTransportError(protocol.MethodDescribe, node, err)
	}

	n, ok := c.server.Node(node)
	if !ok {
		return nil, protocol.NewTransportError(protocol.MethodDescribe, node, protocol.ErrUnknownNode)
	}
	return slices.Clone(n.descriptors), nil
}

// Invoke implements transport.RemoteConnection. Handler errors are reported
// as remote failures carrying the original error.
func (c *Conn) Invoke(ctx context.Context, node protocol.NodeID, operation string, signature []string, args []any) (any, error) {
	if err := c.check(protocol.MethodInvoke, node); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewTransportError(protocol.MethodInvoke, node, err)
	}

	c.server.mu.Lock()
	c.server.calls = append(c.server.calls, protocol.Invocation{
		Node:      node,
		Operation: operation,
		Signature: slices.Clone(signature),
		Args:      slices.Clone(args),
	})
	n, ok := c.server.nodes[node]
	c.server.mu.Unlock()

	if !ok {
		return nil, protocol.NewTransportError(protocol.MethodInvoke, node, protocol.ErrUnknownNode)
	}
	h, ok := n.handler(operation)
	if !ok {
		return nil, protocol.NewRemoteError(node, operation, "UnsupportedOperation",
			fmt.Sprintf("node %s has no operation %q", node, operation), nil)
	}

	result, err := h(ctx, args)
	if err != nil {
		var remoteErr *protocol.RemoteError
		if errors.As(err, &remoteErr) {
			return nil, err
		}
		return nil, protocol.NewRemoteError(node, operation, fmt.Sprintf("%T", err), err.Error(), err)
	}
	return result, nil
}

// AddNotificationListener implements transport.RemoteConnection.
func (c *Conn) AddNotificationListener(ctx context.Context, node protocol.NodeID, listener transport.RawListener) error {
	if err := c.check(protocol.MethodSubscribe, node); err != nil {
		return err
	}

	c.server.mu.RLock()
	subscribeErr := c.server.subscribeErr
	c.server.mu.RUnlock()
	if subscribeErr != nil {
		return protocol.NewTransportError(protocol.MethodSubscribe, node, subscribeErr)
	}

	c.owned.Add(node, listener)
	c.server.listeners.Add(node, listener)
	return nil
}

// RemoveNotificationListener implements transport.RemoteConnection.
func (c *Conn) RemoveNotificationListener(ctx context.Context, node protocol.NodeID, listener transport.RawListener) error {
	if err := c.check(protocol.MethodUnsubscribe, node); err != nil {
		return err
	}
	c.owned.Remove(node, listener)
	c.server.listeners.Remove(node, listener)

	if _, ok := c.server.Node(node); !ok {
		return protocol.NewTransportError(protocol.MethodUnsubscribe, node, protocol.ErrUnknownNode)
	}
	return nil
}

// Close implements transport.RemoteConnection. Listeners registered through
// this connection are removed from the server.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, node := range c.owned.Nodes() {
		for _, l := range c.owned.Listeners(node) {
			c.server.listeners.Remove(node, l)
		}
	}
	c.owned.Clear()
	return nil
}
