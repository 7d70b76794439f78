// Package state is the client side of the state capability: the current
// state of a job and notifications when it changes.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

// Name is the capability name descriptors use.
const Name = "state"

// Version of the state capability implemented here.
var Version = protocol.NewHandlerVersion(1, 0)

// Contract of the capability.
var (
	OpCurrent  = protocol.NewOperation("current", protocol.TypeObject)
	ChangeType = protocol.NewNotificationType("state.change", protocol.TypeObject)
)

// Event is a state of a job at a point in time.
type Event struct {
	State    string    `json:"state"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message,omitempty"`
	Sequence int64     `json:"sequence"`
}

// Listener is notified of state changes. Implementations must be comparable
// and must not add or remove listeners from inside StateChanged.
type Listener interface {
	StateChanged(Event)
}

// State is the typed API of the capability.
type State interface {
	Current(ctx context.Context) (Event, error)
	AddStateListener(ctx context.Context, l Listener) error
	RemoveStateListener(l Listener) error
}

// Factory builds state handlers.
type Factory struct{}

var _ capability.HandlerFactory = Factory{}

// NewFactory returns the state handler factory.
func NewFactory() capability.HandlerFactory {
	return Factory{}
}

// Name implements capability.HandlerFactory.
func (Factory) Name() string { return Name }

// Version implements capability.HandlerFactory.
func (Factory) Version() protocol.HandlerVersion { return Version }

// Operations implements capability.HandlerFactory.
func (Factory) Operations() []protocol.OperationType {
	return []protocol.OperationType{OpCurrent}
}

// NewHandler implements capability.HandlerFactory.
func (Factory) NewHandler(proxy capability.Proxy, tk capability.Toolkit) (capability.Handler, error) {
	h := &Handler{proxy: proxy, tk: tk}
	h.Methods = capability.NewMethods(Name).
		Add(OpCurrent, func(ctx context.Context, _ []any) (any, error) {
			return h.Current(ctx)
		})
	return h, nil
}

// Handler implements State for one node.
type Handler struct {
	*capability.Methods

	proxy     capability.Proxy
	tk        capability.Toolkit
	listeners capability.Listeners[Listener]

	// attachMu serialises listener additions and removals, so the
	// subscription follows the listener count even while a snapshot fetch
	// is in flight.
	attachMu sync.Mutex

	// mu serialises fan-out with late joiners so each listener sees the
	// last state exactly once and before anything newer.
	mu      sync.Mutex
	sync    *capability.Synchronizer
	last    Event
	hasLast bool
}

var (
	_ State             = (*Handler)(nil)
	_ capability.Closer = (*Handler)(nil)
)

// Current asks the node for its state.
func (h *Handler) Current(ctx context.Context) (Event, error) {
	return capability.Call[Event](ctx, h.tk, OpCurrent)
}

// AddStateListener adds l. The first listener subscribes to state changes
// and fetches the current state; later listeners are told the last known
// state straight away.
func (h *Handler) AddStateListener(ctx context.Context, l Listener) error {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	h.mu.Lock()
	if !h.listeners.Add(l) {
		defer h.mu.Unlock()
		if h.hasLast {
			l.StateChanged(h.last)
		}
		return nil
	}
	h.mu.Unlock()

	s := capability.NewSynchronizer(h)
	if err := h.tk.RegisterNotificationListener(ChangeType, s); err != nil {
		h.listeners.Remove(l)
		return err
	}

	current, err := h.Current(ctx)
	if err != nil {
		_ = h.tk.RemoveNotificationListener(ChangeType, s)
		h.listeners.Remove(l)
		return err
	}

	h.mu.Lock()
	h.sync = s
	h.mu.Unlock()

	return s.Synchronize(protocol.Notification{
		RemoteID: h.tk.NodeID(),
		Type:     ChangeType,
		Sequence: current.Sequence,
		Data:     current,
	})
}

// RemoveStateListener removes l. Removing the last listener cancels the
// subscription.
func (h *Handler) RemoveStateListener(l Listener) error {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	if !h.listeners.Remove(l) {
		return nil
	}
	return h.detach()
}

func (h *Handler) detach() error {
	h.mu.Lock()
	s := h.sync
	h.sync = nil
	h.hasLast = false
	h.mu.Unlock()

	if s == nil {
		return nil
	}
	return h.tk.RemoveNotificationListener(ChangeType, s)
}

// HandleNotification implements capability.NotificationListener. It fans the
// event out to every listener.
func (h *Handler) HandleNotification(n protocol.Notification) error {
	ev, ok := n.Data.(Event)
	if !ok {
		if err := h.tk.Convert(n.Data, &ev); err != nil {
			return err
		}
	}
	ev.Sequence = n.Sequence

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last, h.hasLast = ev, true
	for _, l := range h.listeners.Snapshot() {
		l.StateChanged(ev)
	}
	return nil
}

// Close implements capability.Closer.
func (h *Handler) Close() error {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	h.listeners.Clear()
	return h.detach()
}
