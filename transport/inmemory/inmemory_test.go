package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/localrivet/jobwire/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	events []protocol.NotificationEvent
}

func (c *collector) HandleNotification(event protocol.NotificationEvent) {
	c.events = append(c.events, event)
}

func TestDescribeAndInvoke(t *testing.T) {
	server := NewServer()
	server.AddNode("job1", protocol.Named("state", protocol.NewHandlerVersion(1, 0))).
		Return("current", "READY")

	conn := server.Connect()
	defer conn.Close()
	ctx := context.Background()

	descriptors, err := conn.Describe(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "state", descriptors[0].Name)

	result, err := conn.Invoke(ctx, "job1", "current", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "READY", result)

	calls := server.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "current", calls[0].Operation)
}

func TestInvokeErrors(t *testing.T) {
	server := NewServer()
	boom := errors.New("boom")
	server.AddNode("job1").Handle("run", func(context.Context, []any) (any, error) {
		return nil, boom
	})
	conn := server.Connect()
	ctx := context.Background()

	_, err := conn.Invoke(ctx, "job1", "run", nil, nil)
	require.Error(t, err)
	assert.True(t, protocol.IsRemoteError(err))
	assert.ErrorIs(t, err, boom)

	_, err = conn.Invoke(ctx, "job1", "missing", nil, nil)
	assert.True(t, protocol.IsRemoteError(err))

	_, err = conn.Invoke(ctx, "nope", "run", nil, nil)
	assert.True(t, protocol.IsTransportError(err))
	assert.ErrorIs(t, err, protocol.ErrUnknownNode)

	require.NoError(t, conn.Close())
	_, err = conn.Invoke(ctx, "job1", "run", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, protocol.ErrTransportFailure)
}

func TestEmitReachesSubscribers(t *testing.T) {
	server := NewServer()
	server.AddNode("job1")
	conn := server.Connect()
	ctx := context.Background()

	c := &collector{}
	require.NoError(t, conn.AddNotificationListener(ctx, "job1", c))
	assert.True(t, server.Subscribed("job1"))

	server.Emit("job1", "state.change", "RUNNING")
	server.Emit("job1", "state.change", "COMPLETE")
	server.Emit("job2", "state.change", "RUNNING")

	require.Len(t, c.events, 2)
	assert.Equal(t, int64(1), c.events[0].Sequence)
	assert.Equal(t, int64(2), c.events[1].Sequence)
	assert.Equal(t, "COMPLETE", c.events[1].Data)

	require.NoError(t, conn.RemoveNotificationListener(ctx, "job1", c))
	server.Emit("job1", "state.change", "READY")
	assert.Len(t, c.events, 2)
}

func TestUnsubscribeFromRemovedNode(t *testing.T) {
	server := NewServer()
	server.AddNode("job1")
	conn := server.Connect()
	ctx := context.Background()

	c := &collector{}
	require.NoError(t, conn.AddNotificationListener(ctx, "job1", c))
	server.RemoveNode("job1")

	err := conn.RemoveNotificationListener(ctx, "job1", c)
	assert.ErrorIs(t, err, protocol.ErrUnknownNode)
	assert.False(t, server.Subscribed("job1"))
}

func TestFailSubscriptions(t *testing.T) {
	server := NewServer()
	server.AddNode("job1")
	conn := server.Connect()

	server.FailSubscriptions(errors.New("refused"))
	err := conn.AddNotificationListener(context.Background(), "job1", &collector{})
	assert.True(t, protocol.IsTransportError(err))

	server.FailSubscriptions(nil)
	assert.NoError(t, conn.AddNotificationListener(context.Background(), "job1", &collector{}))
}

func TestCloseDropsListeners(t *testing.T) {
	server := NewServer()
	server.AddNode("job1")
	conn := server.Connect()

	c := &collector{}
	require.NoError(t, conn.AddNotificationListener(context.Background(), "job1", c))
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	server.Emit("job1", "state.change", "RUNNING")
	assert.Empty(t, c.events)
}
