// Package structural is the client side of the structural capability: the
// children of a node and notifications as they are added or removed.
//
// Child events can be lost or reordered across a reconnect, so after every
// change the handler schedules a delayed check that compares its local view
// with the node's children and repairs any drift.
package structural

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

// Name is the capability name descriptors use.
const Name = "structural"

// Version of the structural capability implemented here.
var Version = protocol.NewHandlerVersion(1, 0)

// Contract of the capability.
var (
	OpChildren  = protocol.NewOperation("children", protocol.TypeObject)
	AddedType   = protocol.NewNotificationType("structural.childAdded", protocol.TypeObject)
	RemovedType = protocol.NewNotificationType("structural.childRemoved", protocol.TypeObject)
)

// DefaultResyncDelay is how long after a change the local view is checked.
const DefaultResyncDelay = time.Second

const defaultCheckTimeout = 5 * time.Second

// ChildEvent describes one child added to or removed from a node.
type ChildEvent struct {
	Index int             `json:"index"`
	Child protocol.NodeID `json:"child"`
}

// Listener is told about children. Implementations must be comparable and
// must not add or remove listeners from inside a callback.
type Listener interface {
	ChildAdded(ChildEvent)
	ChildRemoved(ChildEvent)
}

// Structural is the typed API of the capability.
type Structural interface {
	Children(ctx context.Context) ([]protocol.NodeID, error)
	AddStructuralListener(ctx context.Context, l Listener) error
	RemoveStructuralListener(l Listener) error
}

// Factory builds structural handlers.
type Factory struct {
	resyncDelay  time.Duration
	checkTimeout time.Duration
}

var _ capability.HandlerFactory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithResyncDelay sets the delay of the drift check. Zero disables it.
func WithResyncDelay(d time.Duration) Option {
	return func(f *Factory) {
		if d >= 0 {
			f.resyncDelay = d
		}
	}
}

// WithCheckTimeout bounds the children call made by the drift check.
func WithCheckTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.checkTimeout = d
		}
	}
}

// NewFactory returns the structural handler factory.
func NewFactory(opts ...Option) capability.HandlerFactory {
	f := &Factory{resyncDelay: DefaultResyncDelay, checkTimeout: defaultCheckTimeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements capability.HandlerFactory.
func (f *Factory) Name() string { return Name }

// Version implements capability.HandlerFactory.
func (f *Factory) Version() protocol.HandlerVersion { return Version }

// Operations implements capability.HandlerFactory.
func (f *Factory) Operations() []protocol.OperationType {
	return []protocol.OperationType{OpChildren}
}

// NewHandler implements capability.HandlerFactory.
func (f *Factory) NewHandler(_ capability.Proxy, tk capability.Toolkit) (capability.Handler, error) {
	h := &Handler{
		tk:           tk,
		resyncDelay:  f.resyncDelay,
		checkTimeout: f.checkTimeout,
	}
	h.Methods = capability.NewMethods(Name).
		Add(OpChildren, func(ctx context.Context, _ []any) (any, error) {
			return h.Children(ctx)
		})
	h.added = eventListener{h: h, removed: false}
	h.removed = eventListener{h: h, removed: true}
	return h, nil
}

// eventListener adapts one notification type to the handler.
type eventListener struct {
	h       *Handler
	removed bool
}

func (e *eventListener) HandleNotification(n protocol.Notification) error {
	var ev ChildEvent
	if err := e.h.tk.Convert(n.Data, &ev); err != nil {
		return err
	}
	if e.removed {
		e.h.childRemoved(ev)
	} else {
		e.h.childAdded(ev)
	}
	return nil
}

// Handler implements Structural for one node.
type Handler struct {
	*capability.Methods

	tk           capability.Toolkit
	listeners    capability.Listeners[Listener]
	resyncDelay  time.Duration
	checkTimeout time.Duration
	added        eventListener
	removed      eventListener

	// mu guards the local view; listeners are called with it held so they
	// observe changes in order.
	mu             sync.Mutex
	attached       bool
	children       []protocol.NodeID
	checkScheduled bool
}

var (
	_ Structural        = (*Handler)(nil)
	_ capability.Closer = (*Handler)(nil)
)

// Children asks the node for its children.
func (h *Handler) Children(ctx context.Context) ([]protocol.NodeID, error) {
	return capability.Call[[]protocol.NodeID](ctx, h.tk, OpChildren)
}

// AddStructuralListener adds l and tells it about every known child. The
// first listener subscribes to child events and fetches the children.
func (h *Handler) AddStructuralListener(ctx context.Context, l Listener) error {
	h.mu.Lock()
	if !h.listeners.Add(l) {
		defer h.mu.Unlock()
		for i, child := range h.children {
			l.ChildAdded(ChildEvent{Index: i, Child: child})
		}
		return nil
	}
	h.attached = true
	h.mu.Unlock()

	if err := h.tk.RegisterNotificationListener(AddedType, &h.added); err != nil {
		h.abandon(l)
		return err
	}
	if err := h.tk.RegisterNotificationListener(RemovedType, &h.removed); err != nil {
		h.abandon(l)
		return err
	}

	children, err := h.Children(ctx)
	if err != nil {
		h.abandon(l)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconcile(children)
	return nil
}

func (h *Handler) abandon(l Listener) {
	h.listeners.Remove(l)
	h.detach()
}

// RemoveStructuralListener removes l. Removing the last listener cancels the
// subscription.
func (h *Handler) RemoveStructuralListener(l Listener) error {
	if h.listeners.Remove(l) {
		h.detach()
	}
	return nil
}

func (h *Handler) detach() {
	h.mu.Lock()
	h.attached = false
	h.children = nil
	h.mu.Unlock()

	_ = h.tk.RemoveNotificationListener(AddedType, &h.added)
	_ = h.tk.RemoveNotificationListener(RemovedType, &h.removed)
}

func (h *Handler) childAdded(ev ChildEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !slices.Contains(h.children, ev.Child) {
		index := min(max(ev.Index, 0), len(h.children))
		h.children = slices.Insert(h.children, index, ev.Child)
		h.notify(ChildEvent{Index: index, Child: ev.Child}, false)
	}
	h.scheduleCheck()
}

func (h *Handler) childRemoved(ev ChildEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := slices.Index(h.children, ev.Child); i >= 0 {
		h.children = slices.Delete(h.children, i, i+1)
		h.notify(ChildEvent{Index: i, Child: ev.Child}, true)
	}
	h.scheduleCheck()
}

// reconcile moves the local view to children, telling listeners about each
// difference. Must be called with mu held.
func (h *Handler) reconcile(children []protocol.NodeID) {
	for i := len(h.children) - 1; i >= 0; i-- {
		child := h.children[i]
		if !slices.Contains(children, child) {
			h.children = slices.Delete(h.children, i, i+1)
			h.notify(ChildEvent{Index: i, Child: child}, true)
		}
	}
	for i, child := range children {
		if !slices.Contains(h.children, child) {
			index := min(i, len(h.children))
			h.children = slices.Insert(h.children, index, child)
			h.notify(ChildEvent{Index: index, Child: child}, false)
		}
	}
}

func sameMembers(a, b []protocol.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}

func (h *Handler) notify(ev ChildEvent, removed bool) {
	for _, l := range h.listeners.Snapshot() {
		if removed {
			l.ChildRemoved(ev)
		} else {
			l.ChildAdded(ev)
		}
	}
}

// scheduleCheck arranges one drift check after the resync delay. Must be
// called with mu held.
func (h *Handler) scheduleCheck() {
	if h.resyncDelay <= 0 || h.checkScheduled {
		return
	}
	h.checkScheduled = true
	h.tk.Schedule(h.check, h.resyncDelay)
}

func (h *Handler) check() error {
	h.mu.Lock()
	h.checkScheduled = false
	attached := h.attached
	h.mu.Unlock()
	if !attached {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.checkTimeout)
	defer cancel()
	children, err := h.Children(ctx)
	if err != nil {
		h.tk.Logger().Debug("Structural check failed", "error", err)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.attached {
		return nil
	}
	if !sameMembers(h.children, children) {
		h.tk.Logger().Info("Structural view drifted, resynchronising",
			"local", len(h.children), "remote", len(children))
		h.reconcile(children)
	}
	return nil
}

// Close implements capability.Closer.
func (h *Handler) Close() error {
	h.listeners.Clear()
	h.detach()
	return nil
}
