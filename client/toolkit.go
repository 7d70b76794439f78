package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/hooks"
	"github.com/localrivet/jobwire/notify"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
	"github.com/localrivet/jobwire/util/conversion"
)

// Phase is the lifecycle state of a toolkit.
type Phase int32

const (
	// PhaseActive accepts listener registration and forwards notifications.
	PhaseActive Phase = iota
	// PhaseDestroyed drops incoming notifications. Invocations are still
	// attempted.
	PhaseDestroyed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "ACTIVE"
	case PhaseDestroyed:
		return "DESTROYED"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

type typedListener struct {
	typ      protocol.NotificationType
	listener capability.NotificationListener
}

// Toolkit binds one node to the session's connection and dispatcher. It is
// the single raw listener for its node and routes events by type.
type Toolkit struct {
	node       protocol.NodeID
	sessionID  string
	conn       transport.RemoteConnection
	dispatcher *notify.Dispatcher
	converter  conversion.Converter
	hooks      hooks.Set
	logger     *slog.Logger
	teardown   time.Duration

	phase atomic.Int32

	mu        sync.RWMutex
	listeners map[string]typedListener
}

var (
	_ capability.Toolkit    = (*Toolkit)(nil)
	_ transport.RawListener = (*Toolkit)(nil)
)

// newToolkit creates the toolkit for node and opens its one subscription.
func newToolkit(ctx context.Context, s *Session, node protocol.NodeID) (*Toolkit, error) {
	tk := &Toolkit{
		node:       node,
		sessionID:  s.id,
		conn:       s.conn,
		dispatcher: s.dispatcher,
		converter:  s.converter,
		hooks:      s.hooks,
		logger:     s.logger.With("node", string(node)),
		teardown:   s.teardownTimeout,
		listeners:  make(map[string]typedListener),
	}

	if err := tk.conn.AddNotificationListener(ctx, node, tk); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", node, err)
	}
	return tk, nil
}

// NodeID implements capability.Toolkit.
func (t *Toolkit) NodeID() protocol.NodeID {
	return t.node
}

// Phase returns the current lifecycle state.
func (t *Toolkit) Phase() Phase {
	return Phase(t.phase.Load())
}

// Invoke implements capability.Toolkit. It blocks on the transport round
// trip; transport errors and timeouts are returned unchanged.
func (t *Toolkit) Invoke(ctx context.Context, op protocol.OperationType, args ...any) (any, error) {
	hookCtx := hooks.InvokeContext{Ctx: ctx, Session: t.sessionID, Node: t.node, Operation: op}

	args, err := t.hooks.RunBeforeInvoke(hookCtx, args)
	if err != nil {
		return nil, err
	}

	exported, err := t.converter.Export(args)
	if err != nil {
		return nil, protocol.NewTransportError("export arguments of "+op.Name, t.node, err)
	}

	start := time.Now()
	result, err := t.conn.Invoke(ctx, t.node, op.Name, op.Signature(), exported)
	elapsed := time.Since(start)

	if err != nil {
		t.logger.Debug("Invocation failed", "operation", op.Name, "elapsed", elapsed, "error", err)
	}
	return t.hooks.RunAfterInvoke(hookCtx, result, err, elapsed)
}

// RegisterNotificationListener implements capability.Toolkit. One listener
// is held per notification type.
func (t *Toolkit) RegisterNotificationListener(typ protocol.NotificationType, listener capability.NotificationListener) error {
	if listener == nil {
		return fmt.Errorf("nil listener for %s", typ)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.listeners[typ.Name]; ok && existing.listener != listener {
		return fmt.Errorf("%s on %s: %w", typ, t.node, ErrListenerConflict)
	}
	t.listeners[typ.Name] = typedListener{typ: typ, listener: listener}
	return nil
}

// RemoveNotificationListener implements capability.Toolkit. Removing a
// listener that is not registered does nothing.
func (t *Toolkit) RemoveNotificationListener(typ protocol.NotificationType, listener capability.NotificationListener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.listeners[typ.Name]; ok && existing.listener == listener {
		delete(t.listeners, typ.Name)
	}
	return nil
}

// Schedule implements capability.Toolkit.
func (t *Toolkit) Schedule(task func() error, delay time.Duration) {
	t.dispatcher.EnqueueDelayed(task, delay)
}

// Convert implements capability.Toolkit.
func (t *Toolkit) Convert(raw any, out any) error {
	return t.converter.Import(raw, out)
}

// Logger implements capability.Toolkit.
func (t *Toolkit) Logger() *slog.Logger {
	return t.logger
}

// HandleNotification implements transport.RawListener. It runs on the
// transport's goroutine and only ever enqueues; the listener runs on the
// dispatcher goroutine.
func (t *Toolkit) HandleNotification(event protocol.NotificationEvent) {
	if t.Phase() == PhaseDestroyed {
		t.logger.Debug("Dropping notification for destroyed node",
			"type", event.Type, "sequence", event.Sequence)
		return
	}

	t.mu.RLock()
	entry, ok := t.listeners[event.Type]
	t.mu.RUnlock()
	if !ok {
		t.logger.Debug("No listener for notification", "type", event.Type, "sequence", event.Sequence)
		return
	}

	n := protocol.Notification{
		RemoteID: t.node,
		Type:     entry.typ,
		Sequence: event.Sequence,
		Data:     event.Data,
	}
	t.dispatcher.Enqueue(func() error {
		if !t.hooks.RunBeforeDeliver(t.sessionID, n) {
			return nil
		}
		if err := entry.listener.HandleNotification(n); err != nil {
			return fmt.Errorf("%s listener on %s (sequence %d): %w", n.Type.Name, t.node, n.Sequence, err)
		}
		return nil
	})
}

// Destroy moves the toolkit to PhaseDestroyed and cancels its subscription.
// Unsubscribe failures are logged; the node having already gone is the
// usual cause. Only the first call has any effect.
func (t *Toolkit) Destroy() {
	if !t.phase.CompareAndSwap(int32(PhaseActive), int32(PhaseDestroyed)) {
		return
	}

	t.mu.Lock()
	clear(t.listeners)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.teardown)
	defer cancel()
	if err := t.conn.RemoveNotificationListener(ctx, t.node, t); err != nil {
		t.logger.Debug("Unsubscribe failed during destroy", "error", err)
	}
}
