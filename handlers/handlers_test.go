package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/jobwire/capability"
	"github.com/localrivet/jobwire/handlers/control"
	"github.com/localrivet/jobwire/handlers/logs"
	"github.com/localrivet/jobwire/handlers/state"
	"github.com/localrivet/jobwire/handlers/structural"
	"github.com/localrivet/jobwire/protocol"
)

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		logs.Name,
		control.ResettableName,
		control.RunnableName,
		state.Name,
		control.StoppableName,
		structural.Name,
	}, reg.Names())

	r := capability.NewResolver(reg, nil)
	for _, name := range reg.Names() {
		f, ok := r.Resolve(protocol.Named(name, protocol.NewHandlerVersion(1, 0)))
		require.True(t, ok, name)
		assert.Equal(t, name, f.Name())
	}
}

func TestRegisterAllTwiceFails(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, RegisterAll(reg, Options{ResyncDelay: -1, LogHistory: 10}))
	assert.Error(t, RegisterAll(reg, Options{}))
}
