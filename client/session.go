package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/hooks"
	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/notify"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
	"github.com/localrivet/jobwire/util/conversion"
)

const (
	defaultTeardownTimeout = 5 * time.Second
	defaultCreateTimeout   = 30 * time.Second
)

// Session is the per-connection owner of every proxy and of the dispatcher
// that delivers their notifications. A Session is safe for concurrent use.
type Session struct {
	id              string
	conn            transport.RemoteConnection
	resolver        *capability.Resolver
	dispatcher      *notify.Dispatcher
	converter       conversion.Converter
	hooks           hooks.Set
	logger          *slog.Logger
	teardownTimeout time.Duration
	createTimeout   time.Duration

	creating singleflight.Group

	mu      sync.Mutex
	byNode  map[protocol.NodeID]*Proxy
	byProxy map[*Proxy]protocol.NodeID
	closed  bool
}

// NewSession creates a session over conn, resolving capabilities against
// classes. The session starts its dispatcher; Close stops it.
func NewSession(conn transport.RemoteConnection, classes capability.ClassResolver, opts ...Option) *Session {
	s := &Session{
		id:              uuid.NewString(),
		conn:            conn,
		converter:       conversion.Default,
		teardownTimeout: defaultTeardownTimeout,
		createTimeout:   defaultCreateTimeout,
		byNode:          make(map[protocol.NodeID]*Proxy),
		byProxy:         make(map[*Proxy]protocol.NodeID),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = logx.OrDiscard(s.logger).With("session", s.id)
	s.resolver = capability.NewResolver(classes, s.logger)
	s.dispatcher = notify.New(notify.WithLogger(s.logger))

	s.logger.Debug("Session started")
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Create returns the proxy for node, building it on first use. Concurrent
// calls for the same node share one build. The shared build is not cancelled
// with any one caller's ctx; it is bounded by the session's create timeout.
// A caller whose ctx ends first gets an error matching ErrNoProxy while the
// build carries on for the others. A node whose proxy cannot be built yields
// an error matching ErrNoProxy; two capabilities declaring the same
// operation yield a *ConflictError.
func (s *Session) Create(ctx context.Context, node protocol.NodeID) (*Proxy, error) {
	if p, err := s.lookup(node); p != nil || err != nil {
		return p, err
	}

	ch := s.creating.DoChan(string(node), func() (any, error) {
		if p, err := s.lookup(node); p != nil || err != nil {
			return p, err
		}
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.createTimeout)
		defer cancel()
		return s.build(buildCtx, node)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Proxy), nil
	case <-ctx.Done():
		return nil, &ProxyError{Node: node, Cause: ctx.Err()}
	}
}

func (s *Session) lookup(node protocol.NodeID) (*Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.byNode[node], nil
}

func (s *Session) build(ctx context.Context, node protocol.NodeID) (*Proxy, error) {
	logger := s.logger.With("node", string(node))

	descriptors, err := s.conn.Describe(ctx, node)
	if err != nil {
		logger.Error("Failed to describe node", "error", err)
		return nil, &ProxyError{Node: node, Cause: err}
	}
	factories := s.resolver.ResolveAll(descriptors)

	tk, err := newToolkit(ctx, s, node)
	if err != nil {
		logger.Error("Failed to create proxy", "error", err)
		return nil, &ProxyError{Node: node, Cause: err}
	}

	proxy := &Proxy{node: node, toolkit: tk}
	for _, f := range factories {
		proxy.capabilities = append(proxy.capabilities, f.Name())
	}

	manager, err := NewManagerBuilder(proxy, tk).Add(factories...).Build()
	if err != nil {
		tk.Destroy()
		logger.Error("Failed to build interface manager", "error", err)
		if IsConflictError(err) {
			return nil, err
		}
		return nil, &ProxyError{Node: node, Cause: err}
	}
	proxy.manager = manager

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.teardown(proxy)
		return nil, ErrSessionClosed
	}
	s.byNode[node] = proxy
	s.byProxy[proxy] = node
	s.mu.Unlock()

	logger.Debug("Created proxy", "capabilities", proxy.capabilities)
	return proxy, nil
}

// ProxyFor returns the tracked proxy of node.
func (s *Session) ProxyFor(node protocol.NodeID) (*Proxy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byNode[node]
	return p, ok
}

// NodeIDFor returns the node a tracked proxy stands for.
func (s *Session) NodeIDFor(p *Proxy) (protocol.NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.byProxy[p]
	return node, ok
}

// Len returns the number of tracked proxies.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byNode)
}

// Destroy stops tracking p and destroys its toolkit. Destroying an untracked
// or already destroyed proxy does nothing.
func (s *Session) Destroy(p *Proxy) {
	if p == nil {
		return
	}

	s.mu.Lock()
	node, ok := s.byProxy[p]
	if ok {
		delete(s.byProxy, p)
		delete(s.byNode, node)
	}
	s.mu.Unlock()

	if ok {
		s.teardown(p)
	}
}

// DestroyAll destroys every tracked proxy. Failures of individual
// teardowns are logged and do not stop the others.
func (s *Session) DestroyAll() {
	s.mu.Lock()
	proxies := make([]*Proxy, 0, len(s.byProxy))
	for p := range s.byProxy {
		proxies = append(proxies, p)
	}
	clear(s.byProxy)
	clear(s.byNode)
	s.mu.Unlock()

	for _, p := range proxies {
		s.teardown(p)
	}
	if len(proxies) > 0 {
		s.logger.Debug("Destroyed all proxies", "count", len(proxies))
	}
}

func (s *Session) teardown(p *Proxy) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Proxy teardown panicked", "node", string(p.node), "panic", r)
		}
	}()

	p.toolkit.Destroy()
	if p.manager != nil {
		if err := p.manager.Close(); err != nil {
			s.logger.Warn("Failed to close capability handlers", "node", string(p.node), "error", err)
		}
	}
}

// Close destroys every proxy and stops the dispatcher. Later calls to
// Create fail with ErrSessionClosed. The connection is not closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.DestroyAll()
	s.dispatcher.Stop()
	s.logger.Debug("Session closed")
	return nil
}

// Pending returns the number of notification tasks waiting for delivery.
func (s *Session) Pending() int {
	return s.dispatcher.Size()
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, %d proxies)", s.id, s.Len())
}
