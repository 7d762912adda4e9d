package app

import (
	"errors"
	"testing"

	"github.com/dkeye/DuelRelay/internal/core/coretest"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTerminator struct {
	mock.Mock
	reg *Registry
}

func (m *mockTerminator) Terminate(id domain.ConnID, reason string) {
	m.Called(id, reason)
	m.reg.Unregister(id)
}

func (m *mockTerminator) ReconcileQueues() { m.Called() }

func TestSweeperTerminatesSilentConnections(t *testing.T) {
	reg := NewRegistry()
	quiet, chatty := coretest.NewPeer("c1"), coretest.NewPeer("c2")
	require.NoError(t, reg.Register(quiet, ""))
	require.NoError(t, reg.Register(chatty, ""))

	term := &mockTerminator{reg: reg}
	term.On("ReconcileQueues").Return()
	term.On("Terminate", domain.ConnID("c1"), "liveness").Return().Once()

	s := NewSweeper(reg, term, 0)

	assert.Empty(t, s.SweepOnce())
	assert.Equal(t, 1, quiet.Probes())
	assert.Equal(t, 1, chatty.Probes())

	reg.MarkAlive("c2")
	assert.Equal(t, []domain.ConnID{"c1"}, s.SweepOnce())
	assert.False(t, reg.IsLive("c1"))
	assert.True(t, reg.IsLive("c2"))

	term.AssertExpectations(t)
	term.AssertNumberOfCalls(t, "ReconcileQueues", 2)
}

func TestSweeperTerminatesOnProbeError(t *testing.T) {
	reg := NewRegistry()
	broken := coretest.NewPeer("c1")
	broken.FailProbes(errors.New("write: broken pipe"))
	require.NoError(t, reg.Register(broken, ""))

	term := &mockTerminator{reg: reg}
	term.On("ReconcileQueues").Return()
	term.On("Terminate", domain.ConnID("c1"), "liveness").Return().Once()

	assert.Equal(t, []domain.ConnID{"c1"}, NewSweeper(reg, term, 0).SweepOnce())
	term.AssertExpectations(t)
}
