// Package logs is the client side of the console log capability.
package logs

import (
	"context"
	"sync"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

// Name is the capability name descriptors use.
const Name = "logs"

// Version of the logs capability implemented here.
var Version = protocol.NewHandlerVersion(1, 0)

// Contract of the capability.
var (
	OpConsoleID = protocol.NewOperation("consoleId", protocol.TypeString)
	OpLogLines  = protocol.NewOperation("logLines", protocol.TypeObject, protocol.TypeInt, protocol.TypeInt)
	LineType    = protocol.NewNotificationType("log.line", protocol.TypeObject)
)

const (
	// DefaultHistory is how many recent lines a handler replays to a listener
	// that joins after the first one.
	DefaultHistory = 100
	// DefaultBacklog is how many lines the first listener is sent on attach.
	DefaultBacklog = 1000
)

// Line is one console line. Number increases by one per line and doubles as
// the notification sequence.
type Line struct {
	Number  int64  `json:"number"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Listener receives log lines. Implementations must be comparable and must
// not add or remove listeners from inside LogLine.
type Listener interface {
	LogLine(Line)
}

// Logs is the typed API of the capability.
type Logs interface {
	ConsoleID(ctx context.Context) (string, error)
	Lines(ctx context.Context, from int64, limit int) ([]Line, error)
	AddLogListener(ctx context.Context, l Listener) error
	RemoveLogListener(l Listener) error
}

// Factory builds logs handlers.
type Factory struct {
	history int
	backlog int
}

var _ capability.HandlerFactory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithHistory sets how many lines late listeners are replayed.
func WithHistory(n int) Option {
	return func(f *Factory) {
		if n >= 0 {
			f.history = n
		}
	}
}

// WithBacklog sets how many lines are fetched when the first listener attaches.
func WithBacklog(n int) Option {
	return func(f *Factory) {
		if n > 0 {
			f.backlog = n
		}
	}
}

// NewFactory returns the logs handler factory.
func NewFactory(opts ...Option) capability.HandlerFactory {
	f := &Factory{history: DefaultHistory, backlog: DefaultBacklog}
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
	return []protocol.OperationType{OpConsoleID, OpLogLines}
}

// NewHandler implements capability.HandlerFactory.
func (f *Factory) NewHandler(_ capability.Proxy, tk capability.Toolkit) (capability.Handler, error) {
	h := &Handler{tk: tk, history: f.history, backlog: f.backlog}
	h.Methods = capability.NewMethods(Name).
		Add(OpConsoleID, func(ctx context.Context, _ []any) (any, error) {
			return h.ConsoleID(ctx)
		}).
		Add(OpLogLines, func(ctx context.Context, args []any) (any, error) {
			from, err := capability.Arg[int64](tk, args, 0)
			if err != nil {
				return nil, err
			}
			limit, err := capability.Arg[int](tk, args, 1)
			if err != nil {
				return nil, err
			}
			return h.Lines(ctx, from, limit)
		})
	return h, nil
}

// Handler implements Logs for one node.
type Handler struct {
	*capability.Methods

	tk        capability.Toolkit
	listeners capability.Listeners[Listener]
	history   int
	backlog   int

	// attachMu serialises listener additions and removals.
	attachMu sync.Mutex

	mu     sync.Mutex
	sync   *capability.Synchronizer
	recent []Line
}

var (
	_ Logs              = (*Handler)(nil)
	_ capability.Closer = (*Handler)(nil)
)

// ConsoleID returns the identity of the node's console.
func (h *Handler) ConsoleID(ctx context.Context) (string, error) {
	return capability.Call[string](ctx, h.tk, OpConsoleID)
}

// Lines returns up to limit lines with a number greater than from.
func (h *Handler) Lines(ctx context.Context, from int64, limit int) ([]Line, error) {
	return capability.Call[[]Line](ctx, h.tk, OpLogLines, from, limit)
}

// AddLogListener adds l. The first listener subscribes to new lines and is
// sent the existing backlog; later listeners get the recent history.
func (h *Handler) AddLogListener(ctx context.Context, l Listener) error {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	h.mu.Lock()
	if !h.listeners.Add(l) {
		defer h.mu.Unlock()
		for _, line := range h.recent {
			l.LogLine(line)
		}
		return nil
	}
	h.mu.Unlock()

	s := capability.NewSynchronizer(h)
	if err := h.tk.RegisterNotificationListener(LineType, s); err != nil {
		h.listeners.Remove(l)
		return err
	}

	backlog, err := h.Lines(ctx, 0, h.backlog)
	if err != nil {
		_ = h.tk.RemoveNotificationListener(LineType, s)
		h.listeners.Remove(l)
		return err
	}

	h.mu.Lock()
	h.sync = s
	h.mu.Unlock()

	snapshot := make([]protocol.Notification, len(backlog))
	for i, line := range backlog {
		snapshot[i] = protocol.Notification{
			RemoteID: h.tk.NodeID(),
			Type:     LineType,
			Sequence: line.Number,
			Data:     line,
		}
	}
	return s.Synchronize(snapshot...)
}

// RemoveLogListener removes l. Removing the last listener cancels the
// subscription.
func (h *Handler) RemoveLogListener(l Listener) error {
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
	h.recent = nil
	h.mu.Unlock()

	if s == nil {
		return nil
	}
	return h.tk.RemoveNotificationListener(LineType, s)
}

// HandleNotification implements capability.NotificationListener.
func (h *Handler) HandleNotification(n protocol.Notification) error {
	line, ok := n.Data.(Line)
	if !ok {
		if err := h.tk.Convert(n.Data, &line); err != nil {
			return err
		}
	}
	line.Number = n.Sequence

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.history > 0 {
		h.recent = append(h.recent, line)
		if over := len(h.recent) - h.history; over > 0 {
			h.recent = append(h.recent[:0], h.recent[over:]...)
		}
	}
	for _, l := range h.listeners.Snapshot() {
		l.LogLine(line)
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
