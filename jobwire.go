// Package jobwire is a client runtime for components that live in a remote job
// server.
//
// # Overview
//
// A job server hosts a tree of nodes. Each node declares the capabilities it
// implements; the client turns a node into a local Proxy that serves every
// capability it understands, invokes operations on the node and delivers the
// node's notifications on a single ordered goroutine per session.
//
// # Organization
//
//   - github.com/localrivet/jobwire/client: sessions, proxies, toolkits and configuration
//   - github.com/localrivet/jobwire/capability: capability registry, resolver and handler contracts
//   - github.com/localrivet/jobwire/handlers: built-in state, logs, structural and control capabilities
//   - github.com/localrivet/jobwire/notify: the notification dispatcher
//   - github.com/localrivet/jobwire/transport: the connection contract plus websocket and in-memory transports
//   - github.com/localrivet/jobwire/auth: bearer tokens for the websocket handshake
//
// # Basic Usage
//
//	cfg, err := client.LoadFromFile("jobwire.yaml", nil)
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	c, err := jobwire.Connect(ctx, cfg)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	proxy, err := c.Create(ctx, "build-42")
//	if err != nil {
//	  log.Fatal(err)
//	}
//	if st, ok := client.As[state.State](proxy); ok {
//	  current, _ := st.Current(ctx)
//	  fmt.Println(current.State)
//	}
package jobwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/localrivet/jobwire/auth"
	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers"
	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/transport"
	"github.com/localrivet/jobwire/transport/websocket"
)

// Version is the version of the jobwire runtime.
const Version = "0.4.0"

// Client is a Session bound to the websocket connection it runs over.
type Client struct {
	*client.Session

	conn *websocket.Conn
}

// Conn returns the underlying connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Close closes the session, then the connection.
func (c *Client) Close() error {
	return errors.Join(c.Session.Close(), c.conn.Close())
}

type options struct {
	logger      *slog.Logger
	classes     capability.ClassResolver
	sessionOpts []client.Option
	dialOpts    []websocket.Option
}

// Option configures Connect.
type Option func(*options)

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClasses resolves capabilities against classes instead of the built-in
// registry.
func WithClasses(classes capability.ClassResolver) Option {
	return func(o *options) {
		o.classes = classes
	}
}

// WithSessionOptions passes options through to the session.
func WithSessionOptions(opts ...client.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithDialOptions passes options through to the websocket dialer.
func WithDialOptions(opts ...websocket.Option) Option {
	return func(o *options) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// Connect dials the job server described by cfg and opens a session on the
// connection.
func Connect(ctx context.Context, cfg *client.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger, err := NewLogger(io.Discard, cfg)
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}
	if o.classes == nil {
		reg, err := handlers.NewRegistry(handlers.Options{ResyncDelay: cfg.ResyncDelay.Std()})
		if err != nil {
			return nil, err
		}
		o.classes = reg
	}

	tokens, err := TokenSource(cfg.Auth)
	if err != nil {
		return nil, err
	}

	dialOpts := []websocket.Option{
		websocket.WithLogger(o.logger),
		websocket.WithRequestTimeout(cfg.RequestTimeout.Std()),
		websocket.WithConnectTimeout(cfg.ConnectTimeout.Std()),
		websocket.WithBackoff(transport.NewExponentialBackoff(
			cfg.Retry.InitialDelay.Std(), cfg.Retry.MaxDelay.Std(), cfg.Retry.Attempts)),
	}
	if tokens != nil {
		dialOpts = append(dialOpts, websocket.WithTokenSource(tokens))
	}
	conn, err := websocket.Dial(ctx, cfg.URL(), append(dialOpts, o.dialOpts...)...)
	if err != nil {
		return nil, err
	}

	sessionOpts := append([]client.Option{client.WithLogger(o.logger)}, o.sessionOpts...)
	session := client.NewSession(conn, o.classes, sessionOpts...)
	o.logger.Info("Connected", "url", cfg.URL(), "session", session.ID())
	return &Client{Session: session, conn: conn}, nil
}

// NewLogger builds the logger described by cfg, writing to w.
func NewLogger(w io.Writer, cfg *client.Config) (*slog.Logger, error) {
	return logx.New(w, cfg.LogLevel, cfg.LogFormat)
}

// TokenSource picks the credentials described by a. A static token wins over
// an HMAC secret, which wins over a JWK file. No credentials yields a nil
// source and no error.
func TokenSource(a client.AuthConfig) (auth.TokenSource, error) {
	claims := auth.Claims{Subject: a.Subject, Audience: a.Audience, TTL: a.TTL.Std()}

	switch {
	case a.Token != "":
		return auth.StaticToken(a.Token), nil
	case a.HMACSecret != "":
		src, err := auth.NewHMACTokenSource([]byte(a.HMACSecret), claims)
		if err != nil {
			return nil, err
		}
		return src, nil
	case a.JWKFile != "":
		key, err := auth.LoadSigningKey(a.JWKFile)
		if err != nil {
			return nil, err
		}
		src, err := auth.NewKeyTokenSource(key, claims)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, nil
	}
}
