package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/jobwire/auth"
	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers/state"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
	"github.com/localrivet/jobwire/transport/websocket"
)

var secret = []byte("websocket-test-secret")

// peer is a minimal job server.
type peer struct {
	t           *testing.T
	validator   *auth.Validator
	rejectFirst atomic.Int32
	attempts    atomic.Int32

	mu      sync.Mutex
	conn    net.Conn
	methods []string
	ops     []string
}

func newPeer(t *testing.T) (*peer, string) {
	t.Helper()
	v, err := auth.NewValidator(auth.ValidatorConfig{Secret: secret})
	require.NoError(t, err)
	p := &peer{t: t, validator: v}

	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, "ws" + srv.URL[len("http"):]
}

func (p *peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.attempts.Add(1) <= p.rejectFirst.Load() {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
		return
	}
	token, ok := auth.TokenFromHeader(r.Header.Get("Authorization"))
	if !ok {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := p.validator.Validate(r.Context(), token); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		p.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op == ws.OpText {
			p.handle(data)
		}
	}
}

func (p *peer) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.t.Errorf("marshal: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = wsutil.WriteServerText(p.conn, data)
	}
}

func (p *peer) handle(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		p.t.Errorf("malformed request: %v", err)
		return
	}

	var req protocol.NodeRequest
	_ = json.Unmarshal(msg.Params, &req)

	p.mu.Lock()
	p.methods = append(p.methods, msg.Method)
	p.mu.Unlock()

	if req.Node != "job" {
		p.send(protocol.NewErrorResponse(msg.ID, protocol.CodeUnknownNode, "no node "+string(req.Node), nil))
		return
	}

	switch msg.Method {
	case protocol.MethodDescribe:
		p.send(protocol.NewSuccessResponse(msg.ID, protocol.DescribeResult{
			Descriptors: []protocol.CapabilityDescriptor{
				protocol.Named(state.Name, state.Version),
				protocol.Vanilla("Counter"),
			},
		}))
	case protocol.MethodInvoke:
		var inv protocol.Invocation
		if err := json.Unmarshal(msg.Params, &inv); err != nil {
			p.t.Errorf("malformed invocation: %v", err)
			return
		}
		p.mu.Lock()
		p.ops = append(p.ops, inv.Operation)
		p.mu.Unlock()
		p.invoke(msg.ID, inv)
	case protocol.MethodSubscribe, protocol.MethodUnsubscribe:
		p.send(protocol.NewSuccessResponse(msg.ID, struct{}{}))
	default:
		p.send(protocol.NewErrorResponse(msg.ID, protocol.CodeMethodNotFound, "unknown method", nil))
	}
}

func (p *peer) invoke(id any, inv protocol.Invocation) {
	switch inv.Operation {
	case "current":
		p.send(protocol.NewSuccessResponse(id, map[string]any{"state": "READY", "sequence": 0}))
	case "echo":
		p.send(protocol.NewSuccessResponse(id, inv.Args))
	case "fail":
		p.send(protocol.NewErrorResponse(id, protocol.CodeRemoteFailure, "job is locked",
			map[string]any{"type": "IllegalStateException"}))
	case "bad":
		p.send(protocol.NewErrorResponse(id, protocol.CodeInvalidParams, "wrong arity", nil))
	case "slow":
		go func() {
			time.Sleep(150 * time.Millisecond)
			p.send(protocol.NewSuccessResponse(id, "done"))
		}()
	case "hang":
	}
}

func (p *peer) emit(typ string, seq int64, data any) {
	p.send(protocol.NewNotification(protocol.MethodEvent, protocol.NotificationEvent{
		Node: "job", Type: typ, Sequence: seq, Data: data,
	}))
}

func (p *peer) seen() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.methods), slices.Clone(p.ops)
}

func (p *peer) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.Close()
}

func dial(t *testing.T, url string, opts ...websocket.Option) *websocket.Conn {
	t.Helper()
	src, err := auth.NewHMACTokenSource(secret, auth.Claims{Subject: "test"})
	require.NoError(t, err)

	opts = append([]websocket.Option{websocket.WithTokenSource(src)}, opts...)
	conn, err := websocket.Dial(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type rawRecorder struct {
	events chan protocol.NotificationEvent
}

func newRawRecorder() *rawRecorder {
	return &rawRecorder{events: make(chan protocol.NotificationEvent, 8)}
}

func (r *rawRecorder) HandleNotification(e protocol.NotificationEvent) {
	r.events <- e
}

func (r *rawRecorder) next(t *testing.T) protocol.NotificationEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return protocol.NotificationEvent{}
	}
}

func TestDescribeAndInvoke(t *testing.T) {
	_, url := newPeer(t)
	conn := dial(t, url)
	ctx := context.Background()

	descriptors, err := conn.Describe(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []protocol.CapabilityDescriptor{
		protocol.Named(state.Name, protocol.NewHandlerVersion(1, 0)),
		protocol.Vanilla("Counter"),
	}, descriptors)

	result, err := conn.Invoke(ctx, "job", "current", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "READY", result.(map[string]any)["state"])

	result, err = conn.Invoke(ctx, "job", "echo", []string{"int", "string"}, []any{1, "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "x"}, result)
}

func TestErrorsAreClassified(t *testing.T) {
	_, url := newPeer(t)
	conn := dial(t, url)
	ctx := context.Background()

	_, err := conn.Invoke(ctx, "job", "fail", nil, nil)
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "IllegalStateException", remote.Type)
	assert.Equal(t, "fail", remote.Operation)
	assert.Equal(t, "job is locked", remote.Message)
	assert.False(t, protocol.IsTransportError(err))

	_, err = conn.Describe(ctx, "ghost")
	assert.True(t, protocol.IsTransportError(err))
	assert.ErrorIs(t, err, protocol.ErrUnknownNode)

	_, err = conn.Invoke(ctx, "job", "bad", nil, nil)
	var rpcErr *protocol.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInvalidParams, rpcErr.Code)
	assert.True(t, protocol.IsTransportError(err))
}

func TestSubscriptionFollowsListeners(t *testing.T) {
	p, url := newPeer(t)
	conn := dial(t, url)
	ctx := context.Background()

	first, second := newRawRecorder(), newRawRecorder()
	require.NoError(t, conn.AddNotificationListener(ctx, "job", first))
	require.NoError(t, conn.AddNotificationListener(ctx, "job", second))
	require.NoError(t, conn.AddNotificationListener(ctx, "job", second))

	methods, _ := p.seen()
	assert.Equal(t, []string{protocol.MethodSubscribe}, methods)

	p.emit("state.change", 1, map[string]any{"state": "RUNNING"})
	for _, r := range []*rawRecorder{first, second} {
		e := r.next(t)
		assert.Equal(t, protocol.NodeID("job"), e.Node)
		assert.Equal(t, "state.change", e.Type)
		assert.Equal(t, int64(1), e.Sequence)
	}

	require.NoError(t, conn.RemoveNotificationListener(ctx, "job", first))
	methods, _ = p.seen()
	assert.Len(t, methods, 1)

	require.NoError(t, conn.RemoveNotificationListener(ctx, "job", second))
	methods, _ = p.seen()
	assert.Equal(t, []string{protocol.MethodSubscribe, protocol.MethodUnsubscribe}, methods)

	err := conn.AddNotificationListener(ctx, "ghost", first)
	assert.ErrorIs(t, err, protocol.ErrUnknownNode)
}

func TestDialAuthentication(t *testing.T) {
	_, url := newPeer(t)

	_, err := websocket.Dial(context.Background(), url, websocket.WithTokenSource(auth.StaticToken("forged")))
	require.Error(t, err)
	assert.True(t, protocol.IsTransportError(err))

	_, err = websocket.Dial(context.Background(), url)
	assert.Error(t, err)
}

func TestDialRetries(t *testing.T) {
	p, url := newPeer(t)
	p.rejectFirst.Store(2)

	dial(t, url, websocket.WithBackoff(transport.NewNoBackoff(3)))
	assert.Equal(t, int32(3), p.attempts.Load())
}

func TestRequestTimeout(t *testing.T) {
	_, url := newPeer(t)
	conn := dial(t, url, websocket.WithRequestTimeout(50*time.Millisecond))

	_, err := conn.Invoke(context.Background(), "job", "hang", nil, nil)
	assert.True(t, protocol.IsTransportError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerDeadlineOverridesRequestTimeout(t *testing.T) {
	_, url := newPeer(t)
	conn := dial(t, url, websocket.WithRequestTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := conn.Invoke(ctx, "job", "slow", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	_, err = conn.Invoke(context.Background(), "job", "slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsPendingCalls(t *testing.T) {
	p, url := newPeer(t)
	conn := dial(t, url, websocket.WithRequestTimeout(0))

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Invoke(context.Background(), "job", "hang", nil, nil)
		errs <- err
	}()
	assert.Eventually(t, func() bool {
		_, ops := p.seen()
		return slices.Contains(ops, "hang")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	select {
	case err := <-errs:
		assert.True(t, protocol.IsTransportError(err))
		assert.ErrorIs(t, err, websocket.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed")
	}

	_, err := conn.Describe(context.Background(), "job")
	assert.ErrorIs(t, err, websocket.ErrClosed)
	require.NoError(t, conn.Close())
}

func TestServerDisconnect(t *testing.T) {
	p, url := newPeer(t)
	conn := dial(t, url)

	_, err := conn.Describe(context.Background(), "job")
	require.NoError(t, err)

	p.drop()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not noticed")
	}
	_, err = conn.Invoke(context.Background(), "job", "current", nil, nil)
	assert.True(t, errors.Is(err, websocket.ErrClosed))
}

type stateRecorder struct {
	states chan string
}

func (r *stateRecorder) StateChanged(ev state.Event) {
	r.states <- ev.State
}

func TestSessionOverWebSocket(t *testing.T) {
	p, url := newPeer(t)
	conn := dial(t, url)

	reg := capability.NewRegistry()
	reg.MustRegister(state.Name, state.NewFactory)
	require.NoError(t, reg.RegisterInterface("Counter",
		protocol.NewOperation("echo", protocol.TypeObject, protocol.TypeInt)))

	session := client.NewSession(conn, reg)
	defer session.Close()
	ctx := context.Background()

	proxy, err := session.Create(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{state.Name, "Counter"}, proxy.Capabilities())

	st, ok := client.As[state.State](proxy)
	require.True(t, ok)
	rec := &stateRecorder{states: make(chan string, 4)}
	require.NoError(t, st.AddStateListener(ctx, rec))
	assert.Equal(t, "READY", <-rec.states)

	p.emit(state.ChangeType.Name, 1, map[string]any{"state": "RUNNING"})
	select {
	case s := <-rec.states:
		assert.Equal(t, "RUNNING", s)
	case <-time.After(2 * time.Second):
		t.Fatal("state change not delivered")
	}

	counter, ok := client.As[*capability.Forwarder](proxy)
	require.True(t, ok)
	echoed, err := counter.Call(ctx, "echo", 7)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(7)}, echoed)
}
