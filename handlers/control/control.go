// Package control holds the small command capabilities of a job: run, stop
// and reset.
package control

import (
	"context"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/protocol"
)

// Capability names.
const (
	RunnableName   = "runnable"
	StoppableName  = "stoppable"
	ResettableName = "resettable"
)

// Version of every control capability implemented here.
var Version = protocol.NewHandlerVersion(1, 0)

// Contracts.
var (
	OpRun       = protocol.NewOperation("run", protocol.TypeVoid)
	OpStop      = protocol.NewOperation("stop", protocol.TypeVoid)
	OpSoftReset = protocol.NewOperation("softReset", protocol.TypeBool)
	OpHardReset = protocol.NewOperation("hardReset", protocol.TypeBool)
)

// Runnable starts a job.
type Runnable interface {
	Run(ctx context.Context) error
}

// Stoppable stops a running job.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Resettable returns a job to its ready state. A soft reset keeps the
// outcome of children that completed; a hard reset clears everything. Both
// report whether the job was reset.
type Resettable interface {
	SoftReset(ctx context.Context) (bool, error)
	HardReset(ctx context.Context) (bool, error)
}

// factory is shared by the three control capabilities, which differ only in
// their operations and handler.
type factory struct {
	name  string
	ops   []protocol.OperationType
	build func(tk capability.Toolkit) capability.Handler
}

func (f *factory) Name() string { return f.name }
func (f *factory) Version() protocol.HandlerVersion { return Version }
func (f *factory) Operations() []protocol.OperationType {
	return append([]protocol.OperationType(nil), f.ops...)
}

func (f *factory) NewHandler(_ capability.Proxy, tk capability.Toolkit) (capability.Handler, error) {
	return f.build(tk), nil
}

// NewRunnableFactory returns the runnable handler factory.
func NewRunnableFactory() capability.HandlerFactory {
	return &factory{
		name: RunnableName,
		ops:  []protocol.OperationType{OpRun},
		build: func(tk capability.Toolkit) capability.Handler {
			h := &RunnableHandler{tk: tk}
			h.Methods = capability.NewMethods(RunnableName).Add(OpRun, h.invokeRun)
			return h
		},
	}
}

// NewStoppableFactory returns the stoppable handler factory.
func NewStoppableFactory() capability.HandlerFactory {
	return &factory{
		name: StoppableName,
		ops:  []protocol.OperationType{OpStop},
		build: func(tk capability.Toolkit) capability.Handler {
			h := &StoppableHandler{tk: tk}
			h.Methods = capability.NewMethods(StoppableName).Add(OpStop, h.invokeStop)
			return h
		},
	}
}

// NewResettableFactory returns the resettable handler factory.
func NewResettableFactory() capability.HandlerFactory {
	return &factory{
		name: ResettableName,
		ops:  []protocol.OperationType{OpSoftReset, OpHardReset},
		build: func(tk capability.Toolkit) capability.Handler {
			h := &ResettableHandler{tk: tk}
			h.Methods = capability.NewMethods(ResettableName).
				Add(OpSoftReset, func(ctx context.Context, _ []any) (any, error) { return h.SoftReset(ctx) }).
				Add(OpHardReset, func(ctx context.Context, _ []any) (any, error) { return h.HardReset(ctx) })
			return h
		},
	}
}

// RunnableHandler implements Runnable.
type RunnableHandler struct {
	*capability.Methods
	tk capability.Toolkit
}

// Run implements Runnable.
func (h *RunnableHandler) Run(ctx context.Context) error {
	_, err := h.tk.Invoke(ctx, OpRun)
	return err
}

func (h *RunnableHandler) invokeRun(ctx context.Context, _ []any) (any, error) {
	return nil, h.Run(ctx)
}

// StoppableHandler implements Stoppable.
type StoppableHandler struct {
	*capability.Methods
	tk capability.Toolkit
}

// Stop implements Stoppable.
func (h *StoppableHandler) Stop(ctx context.Context) error {
	_, err := h.tk.Invoke(ctx, OpStop)
	return err
}

func (h *StoppableHandler) invokeStop(ctx context.Context, _ []any) (any, error) {
	return nil, h.Stop(ctx)
}

// ResettableHandler implements Resettable.
type ResettableHandler struct {
	*capability.Methods
	tk capability.Toolkit
}

// SoftReset implements Resettable.
func (h *ResettableHandler) SoftReset(ctx context.Context) (bool, error) {
	return capability.Call[bool](ctx, h.tk, OpSoftReset)
}

// HardReset implements Resettable.
func (h *ResettableHandler) HardReset(ctx context.Context) (bool, error) {
	return capability.Call[bool](ctx, h.tk, OpHardReset)
}

var (
	_ Runnable   = (*RunnableHandler)(nil)
	_ Stoppable  = (*StoppableHandler)(nil)
	_ Resettable = (*ResettableHandler)(nil)
)
