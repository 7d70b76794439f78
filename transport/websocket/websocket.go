// Package websocket is a transport.RemoteConnection speaking JSON-RPC 2.0 to
// a job server over a WebSocket.
//
// One connection carries every node. Requests are correlated by id; events
// for all subscribed nodes arrive as node.event notifications and are handed
// to the raw listeners of their node on the connection's read goroutine.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/localrivet/jobwire/auth"
	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
)

// ErrClosed is the cause of transport errors returned after Close, and of
// calls that were pending when the connection went down.
var ErrClosed = errors.New("websocket connection closed")

// Defaults applied when the matching option is not given.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	closeTimeout = 2 * time.Second
)

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithTokenSource sends a bearer token from src with the handshake.
func WithTokenSource(src auth.TokenSource) Option {
	return func(c *Conn) {
		c.tokens = src
	}
}

// WithRequestTimeout bounds every request whose context has no deadline.
// Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d >= 0 {
			c.requestTimeout = d
		}
	}
}

// WithConnectTimeout bounds each dial attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithBackoff retries failed dials following strategy.
func WithBackoff(strategy transport.BackoffStrategy) Option {
	return func(c *Conn) {
		c.backoff = strategy
	}
}

// Conn is a WebSocket connection to a job server.
type Conn struct {
	url            string
	logger         *slog.Logger
	tokens         auth.TokenSource
	requestTimeout time.Duration
	connectTimeout time.Duration
	backoff        transport.BackoffStrategy

	conn    net.Conn
	reader  io.Reader
	writeMu sync.Mutex

	pending   sync.Map // request id -> chan *protocol.Message
	listeners *transport.ListenerSet
	subMu     sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	done      chan struct{}
}

var _ transport.RemoteConnection = (*Conn)(nil)

// Dial connects to the job server at url and starts reading from it.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	c := &Conn{
		url:            url,
		requestTimeout: DefaultRequestTimeout,
		connectTimeout: DefaultConnectTimeout,
		listeners:      transport.NewListenerSet(),
		closed:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logx.OrDiscard(c.logger).With("endpoint", url)

	err := transport.Retry(ctx, c.backoff, func(attempt int) error {
		err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("Dial attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, protocol.NewTransportError("dial", "", err)
	}

	go c.readLoop()
	c.logger.Info("Connected")
	return c, nil
}

func (c *Conn) dial(ctx context.Context) error {
	header, err := auth.Header(ctx, c.tokens)
	if err != nil {
		return err
	}
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: c.connectTimeout,
	}

	conn, br, _, err := dialer.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("failed to dial websocket %s: %w", c.url, err)
	}
	c.conn = conn
	c.reader = conn
	if br != nil {
		// Frames the server sent right after the handshake are buffered here.
		c.reader = br
	}
	return nil
}

// Describe implements transport.RemoteConnection.
func (c *Conn) Describe(ctx context.Context, node protocol.NodeID) ([]protocol.CapabilityDescriptor, error) {
	var result protocol.DescribeResult
	if err := c.call(ctx, protocol.MethodDescribe, node, "", protocol.NodeRequest{Node: node}, &result); err != nil {
		return nil, err
	}
	return result.Descriptors, nil
}

// Invoke implements transport.RemoteConnection.
func (c *Conn) Invoke(ctx context.Context, node protocol.NodeID, operation string, signature []string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	params := protocol.Invocation{
		Node:      node,
		Operation: operation,
		Signature: signature,
		Args:      args,
	}
	var result any
	if err := c.call(ctx, protocol.MethodInvoke, node, operation, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// AddNotificationListener implements transport.RemoteConnection. The node's
// subscription is opened when its first listener is added.
func (c *Conn) AddNotificationListener(ctx context.Context, node protocol.NodeID, listener transport.RawListener) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if !c.listeners.Add(node, listener) {
		return nil
	}
	err := c.call(ctx, protocol.MethodSubscribe, node, "", protocol.NodeRequest{Node: node}, nil)
	if err != nil {
		c.listeners.Remove(node, listener)
		return err
	}
	return nil
}

// RemoveNotificationListener implements transport.RemoteConnection. The
// node's subscription is closed with its last listener.
func (c *Conn) RemoveNotificationListener(ctx context.Context, node protocol.NodeID, listener transport.RawListener) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if !c.listeners.Remove(node, listener) {
		return nil
	}
	return c.call(ctx, protocol.MethodUnsubscribe, node, "", protocol.NodeRequest{Node: node}, nil)
}

// call sends one request and waits for its response. operation names the
// remote operation for error reporting and is empty for node-level methods.
func (c *Conn) call(ctx context.Context, method string, node protocol.NodeID, operation string, params any, result any) error {
	select {
	case <-c.closed:
		return protocol.NewTransportError(method, node, c.closeErr)
	default:
	}

	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	data, err := json.Marshal(protocol.NewRequest(id, method, params))
	if err != nil {
		return protocol.NewTransportError(method, node, fmt.Errorf("failed to marshal request: %w", err))
	}

	replies := make(chan *protocol.Message, 1)
	c.pending.Store(id, replies)
	defer c.pending.Delete(id)

	if err := c.write(ctx, ws.OpText, data); err != nil {
		return protocol.NewTransportError(method, node, err)
	}

	select {
	case msg := <-replies:
		if msg.Error != nil {
			return classify(method, node, operation, msg.Error)
		}
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return protocol.NewTransportError(method, node, fmt.Errorf("failed to decode result: %w", err))
		}
		return nil
	case <-ctx.Done():
		return protocol.NewTransportError(method, node, ctx.Err())
	case <-c.closed:
		return protocol.NewTransportError(method, node, c.closeErr)
	}
}

// classify turns a JSON-RPC error into the client's error taxonomy.
func classify(method string, node protocol.NodeID, operation string, payload *protocol.ErrorPayload) error {
	switch payload.Code {
	case protocol.CodeRemoteFailure:
		var data struct {
			Type string `json:"type"`
		}
		if payload.Data != nil {
			_ = protocol.UnmarshalPayload(payload.Data, &data)
		}
		if operation == "" {
			operation = method
		}
		return protocol.NewRemoteError(node, operation, data.Type, payload.Message, nil)
	case protocol.CodeUnknownNode:
		return protocol.NewTransportError(method, node, fmt.Errorf("%w: %s", protocol.ErrUnknownNode, payload.Message))
	default:
		return protocol.NewTransportError(method, node, &protocol.RPCError{ErrorPayload: *payload})
	}
}

func (c *Conn) write(ctx context.Context, op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultRequestTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	defer c.conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteClientMessage(c.conn, op, data); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	rd := &wsutil.Reader{
		Source:         c.reader,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.shutdown(err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, rd); err != nil {
				c.shutdown(err)
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				c.shutdown(err)
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.handle(data)
	}
}

// control answers pings and honors close frames.
func (c *Conn) control(hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	switch hdr.OpCode {
	case ws.OpPing:
		return c.write(ctx, ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		_ = c.write(ctx, ws.OpClose, ws.NewCloseFrameBody(code, ""))
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

func (c *Conn) handle(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Dropping malformed message", "error", err)
		return
	}

	switch {
	case msg.IsResponse():
		id, ok := msg.ID.(string)
		if !ok {
			c.logger.Warn("Dropping response with unexpected id", "id", msg.ID)
			return
		}
		if replies, ok := c.pending.Load(id); ok {
			select {
			case replies.(chan *protocol.Message) <- &msg:
			default:
				c.logger.Warn("Dropping duplicate response", "id", id)
			}
			return
		}
		c.logger.Debug("Dropping response to abandoned request", "id", id)

	case msg.IsNotification() && msg.Method == protocol.MethodEvent:
		var event protocol.NotificationEvent
		if err := json.Unmarshal(msg.Params, &event); err != nil {
			c.logger.Warn("Dropping malformed event", "error", err)
			return
		}
		if c.listeners.Dispatch(event) == 0 {
			c.logger.Debug("No listener for event", "node", event.Node, "type", event.Type)
		}

	default:
		c.logger.Debug("Ignoring message", "method", msg.Method)
	}
}

// shutdown marks the connection closed with cause and fails pending calls.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil || errors.Is(cause, net.ErrClosed) || errors.Is(cause, io.EOF) {
			cause = ErrClosed
		} else {
			cause = fmt.Errorf("%w: %v", ErrClosed, cause)
		}
		c.closeErr = cause
		close(c.closed)
		c.listeners.Clear()
		_ = c.conn.Close()
		c.logger.Info("Disconnected", "cause", cause)
	})
}

// Done is closed once the connection is down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close implements transport.RemoteConnection. Calls still waiting for a
// response fail with a transport error wrapping ErrClosed.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		<-c.done
		return nil
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.write(ctx, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "")); err != nil {
		c.logger.Debug("Failed to write close frame", "error", err)
	}

	c.shutdown(nil)
	<-c.done
	return nil
}
