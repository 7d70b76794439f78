// Package hooks defines the interception points a client session offers
// around remote invocations and notification delivery.
package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/localrivet/jobwire/protocol"
)

// InvokeContext describes one invocation passing through a toolkit.
type InvokeContext struct {
	Ctx       context.Context
	Session   string // Session ID
	Node      protocol.NodeID
	Operation protocol.OperationType
}

// BeforeInvokeHook runs before the arguments are exported and sent.
// Return: Modified args, error to stop the invocation (the error is returned to the caller).
type BeforeInvokeHook func(hookCtx InvokeContext, args []any) (modifiedArgs []any, err error)

// AfterInvokeHook runs after the transport answered, before the result is
// returned to the caller.
// Return: Modified result and error.
type AfterInvokeHook func(hookCtx InvokeContext, result any, invokeErr error, elapsed time.Duration) (modifiedResult any, modifiedErr error)

// BeforeDeliverHook runs on the dispatcher goroutine before a notification
// reaches its listener.
// Return: false to drop the notification.
type BeforeDeliverHook func(session string, n protocol.Notification) bool

// Set groups the hooks registered on a session. The zero value has no hooks.
type Set struct {
	BeforeInvoke  []BeforeInvokeHook
	AfterInvoke   []AfterInvokeHook
	BeforeDeliver []BeforeDeliverHook
}

// Merge returns a Set running the hooks of s and then those of other.
func (s Set) Merge(other Set) Set {
	return Set{
		BeforeInvoke:  append(append([]BeforeInvokeHook(nil), s.BeforeInvoke...), other.BeforeInvoke...),
		AfterInvoke:   append(append([]AfterInvokeHook(nil), s.AfterInvoke...), other.AfterInvoke...),
		BeforeDeliver: append(append([]BeforeDeliverHook(nil), s.BeforeDeliver...), other.BeforeDeliver...),
	}
}

// RunBeforeInvoke runs the BeforeInvoke hooks in order, threading args.
func (s Set) RunBeforeInvoke(hookCtx InvokeContext, args []any) ([]any, error) {
	for _, h := range s.BeforeInvoke {
		var err error
		args, err = h(hookCtx, args)
		if err != nil {
			return nil, err
		}
	}
	return args, nil
}

// RunAfterInvoke runs the AfterInvoke hooks in order, threading result and error.
func (s Set) RunAfterInvoke(hookCtx InvokeContext, result any, err error, elapsed time.Duration) (any, error) {
	for _, h := range s.AfterInvoke {
		result, err = h(hookCtx, result, err, elapsed)
	}
	return result, err
}

// RunBeforeDeliver reports whether every BeforeDeliver hook accepts n.
func (s Set) RunBeforeDeliver(session string, n protocol.Notification) bool {
	for _, h := range s.BeforeDeliver {
		if !h(session, n) {
			return false
		}
	}
	return true
}

// ErrRejected may be returned by a BeforeInvokeHook to refuse a call.
var ErrRejected = errors.New("invocation rejected by hook")
