// Package handlers registers the built-in capabilities.
package handlers

import (
	"errors"
	"time"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/handlers/control"
	"github.com/localrivet/jobwire/handlers/logs"
	"github.com/localrivet/jobwire/handlers/state"
	"github.com/localrivet/jobwire/handlers/structural"
)

// Options tune the built-in handlers.
type Options struct {
	// ResyncDelay is the structural drift check delay. Zero uses the default;
	// a negative value disables the check.
	ResyncDelay time.Duration
	// LogHistory is the number of log lines replayed to late listeners.
	// Zero uses the default.
	LogHistory int
}

// RegisterAll adds every built-in capability to reg.
func RegisterAll(reg *capability.Registry, opts Options) error {
	resync := opts.ResyncDelay
	switch {
	case resync == 0:
		resync = structural.DefaultResyncDelay
	case resync < 0:
		resync = 0
	}
	history := opts.LogHistory
	if history == 0 {
		history = logs.DefaultHistory
	}

	return errors.Join(
		reg.Register(state.Name, state.NewFactory),
		reg.Register(logs.Name, func() capability.HandlerFactory {
			return logs.NewFactory(logs.WithHistory(history))
		}),
		reg.Register(structural.Name, func() capability.HandlerFactory {
			return structural.NewFactory(structural.WithResyncDelay(resync))
		}),
		reg.Register(control.RunnableName, control.NewRunnableFactory),
		reg.Register(control.StoppableName, control.NewStoppableFactory),
		reg.Register(control.ResettableName, control.NewResettableFactory),
	)
}

// NewRegistry returns a registry holding every built-in capability.
func NewRegistry(opts Options) (*capability.Registry, error) {
	reg := capability.NewRegistry()
	if err := RegisterAll(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}
