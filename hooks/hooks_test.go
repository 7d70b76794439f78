package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/localrivet/jobwire/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBeforeInvokeThreadsArgs(t *testing.T) {
	s := Set{BeforeInvoke: []BeforeInvokeHook{
		func(_ InvokeContext, args []any) ([]any, error) { return append(args, "b"), nil },
		func(_ InvokeContext, args []any) ([]any, error) { return append(args, "c"), nil },
	}}

	args, err := s.RunBeforeInvoke(InvokeContext{Ctx: context.Background()}, []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

func TestRunBeforeInvokeStopsOnError(t *testing.T) {
	called := false
	s := Set{BeforeInvoke: []BeforeInvokeHook{
		func(InvokeContext, []any) ([]any, error) { return nil, ErrRejected },
		func(_ InvokeContext, args []any) ([]any, error) { called = true; return args, nil },
	}}

	_, err := s.RunBeforeInvoke(InvokeContext{}, nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, called)
}

func TestRunAfterInvoke(t *testing.T) {
	boom := errors.New("boom")
	s := Set{AfterInvoke: []AfterInvokeHook{
		func(_ InvokeContext, result any, err error, _ time.Duration) (any, error) {
			return "masked", nil
		},
	}}

	result, err := s.RunAfterInvoke(InvokeContext{}, nil, boom, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "masked", result)

	result, err = Set{}.RunAfterInvoke(InvokeContext{}, 1, boom, 0)
	assert.Equal(t, 1, result)
	assert.Same(t, boom, err)
}

func TestRunBeforeDeliverAndMerge(t *testing.T) {
	dropOdd := func(_ string, n protocol.Notification) bool { return n.Sequence%2 == 0 }
	s := Set{}.Merge(Set{BeforeDeliver: []BeforeDeliverHook{dropOdd}})

	assert.True(t, s.RunBeforeDeliver("s1", protocol.Notification{Sequence: 2}))
	assert.False(t, s.RunBeforeDeliver("s1", protocol.Notification{Sequence: 3}))
	assert.True(t, Set{}.RunBeforeDeliver("s1", protocol.Notification{Sequence: 3}))
}
