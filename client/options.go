// Package client is the client-side runtime of the job protocol: sessions,
// per-node proxies, their toolkits and the interface managers that route
// operations to capability handlers.
package client

import (
	"log/slog"
	"time"

	"github.com/localrivet/jobwire/hooks"
	"github.com/localrivet/jobwire/util/conversion"
)

// Option is a session configuration option.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithHooks adds invocation and delivery hooks.
func WithHooks(set hooks.Set) Option {
	return func(s *Session) {
		s.hooks = s.hooks.Merge(set)
	}
}

// WithConverter sets the converter used to export arguments and import
// results.
func WithConverter(c conversion.Converter) Option {
	return func(s *Session) {
		if c != nil {
			s.converter = c
		}
	}
}

// WithTeardownTimeout bounds the unsubscribe call made when a proxy is
// destroyed.
func WithTeardownTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.teardownTimeout = timeout
		}
	}
}

// WithCreateTimeout bounds the build of a proxy shared by concurrent
// Create calls.
func WithCreateTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.createTimeout = timeout
		}
	}
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}
