package transport

import (
	"slices"
	"sync"

	"github.com/localrivet/jobwire/protocol"
)

// ListenerSet tracks raw listeners per node. Transports use the first/last
// results of Add and Remove to decide when to open or close the server-side
// subscription for a node.
type ListenerSet struct {
	listeners map[protocol.NodeID][]RawListener
	mu        sync.RWMutex
}

// NewListenerSet creates an empty ListenerSet.
func NewListenerSet() *ListenerSet {
	return &ListenerSet{
		listeners: make(map[protocol.NodeID][]RawListener),
	}
}

// Add registers listener for node. first is true when node had no listener
// before. Adding the same listener twice is a no-op.
func (s *ListenerSet) Add(node protocol.NodeID, listener RawListener) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.listeners[node]
	if slices.Contains(current, listener) {
		return false
	}
	s.listeners[node] = append(current, listener)
	return len(current) == 0
}

// Remove unregisters listener for node. last is true when the listener was
// registered and node has no listener left.
func (s *ListenerSet) Remove(node protocol.NodeID, listener RawListener) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.listeners[node]
	i := slices.Index(current, listener)
	if i < 0 {
		return false
	}
	current = slices.Delete(current, i, i+1)
	if len(current) == 0 {
		delete(s.listeners, node)
		return true
	}
	s.listeners[node] = current
	return false
}

// Listeners returns a snapshot of the listeners registered for node.
func (s *ListenerSet) Listeners(node protocol.NodeID) []RawListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.listeners[node])
}

// Nodes returns the nodes that have at least one listener.
func (s *ListenerSet) Nodes() []protocol.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]protocol.NodeID, 0, len(s.listeners))
	for node := range s.listeners {
		nodes = append(nodes, node)
	}
	return nodes
}

// Dispatch hands event to every listener registered for its node, on the
// calling goroutine. It returns the number of listeners reached.
func (s *ListenerSet) Dispatch(event protocol.NotificationEvent) int {
	listeners := s.Listeners(event.Node)
	for _, l := range listeners {
		l.HandleNotification(event)
	}
	return len(listeners)
}

// Clear removes every listener.
func (s *ListenerSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.listeners)
}
