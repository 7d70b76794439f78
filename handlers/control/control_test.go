package control_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers/control"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport/inmemory"
)

func newJob(t *testing.T, configure func(*inmemory.Node)) (*inmemory.Server, *client.Proxy) {
	t.Helper()
	server := inmemory.NewServer()
	node := server.AddNode("job",
		protocol.Named(control.RunnableName, control.Version),
		protocol.Named(control.StoppableName, control.Version),
		protocol.Named(control.ResettableName, control.Version),
	)
	configure(node)

	reg := capability.NewRegistry()
	reg.MustRegister(control.RunnableName, control.NewRunnableFactory)
	reg.MustRegister(control.StoppableName, control.NewStoppableFactory)
	reg.MustRegister(control.ResettableName, control.NewResettableFactory)

	conn := server.Connect()
	session := client.NewSession(conn, reg)
	t.Cleanup(func() {
		_ = session.Close()
		_ = conn.Close()
	})

	p, err := session.Create(context.Background(), "job")
	require.NoError(t, err)
	return server, p
}

func TestControlOperations(t *testing.T) {
	server, p := newJob(t, func(n *inmemory.Node) {
		n.Return("run", nil).
			Return("stop", nil).
			Return("softReset", true).
			Return("hardReset", false)
	})
	ctx := context.Background()

	runnable, ok := client.As[control.Runnable](p)
	require.True(t, ok)
	require.NoError(t, runnable.Run(ctx))

	stoppable, ok := client.As[control.Stoppable](p)
	require.True(t, ok)
	require.NoError(t, stoppable.Stop(ctx))

	resettable, ok := client.As[control.Resettable](p)
	require.True(t, ok)
	reset, err := resettable.SoftReset(ctx)
	require.NoError(t, err)
	assert.True(t, reset)
	reset, err = resettable.HardReset(ctx)
	require.NoError(t, err)
	assert.False(t, reset)

	// The same operations through the proxy.
	result, err := p.Invoke(ctx, control.OpSoftReset)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	var ops []string
	for _, call := range server.Calls() {
		ops = append(ops, call.Operation)
	}
	assert.Equal(t, []string{"run", "stop", "softReset", "hardReset", "softReset"}, ops)
	assert.Len(t, p.Operations(), 4)
}

func TestControlFailureIsTheRemoteError(t *testing.T) {
	refused := errors.New("job is locked")
	_, p := newJob(t, func(n *inmemory.Node) {
		n.Handle("stop", func(context.Context, []any) (any, error) { return nil, refused })
	})

	_, err := p.Invoke(context.Background(), control.OpStop)
	require.Error(t, err)

	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Same(t, remote, err, "no capability wrapper around the failure")
	assert.Equal(t, "stop", remote.Operation)
	assert.ErrorIs(t, err, refused)

	var target *capability.TargetError
	assert.False(t, errors.As(err, &target))

	// A node that lacks the operation reports it remotely.
	_, err = p.Invoke(context.Background(), control.OpRun)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "UnsupportedOperation", remote.Type)
}
