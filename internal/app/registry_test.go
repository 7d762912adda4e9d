package app

import (
	"testing"

	"github.com/dkeye/DuelRelay/internal/core/coretest"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryNextIDIsSequential(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, domain.ConnID("c1"), r.NextID())
	assert.Equal(t, domain.ConnID("c2"), r.NextID())
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	p := coretest.NewPeer(r.NextID())
	require.NoError(t, r.Register(p, "tok"))
	assert.ErrorIs(t, r.Register(p, "tok"), ErrDuplicateID)

	assert.True(t, r.IsLive(p.ID()))
	assert.Equal(t, "tok", r.ClientToken(p.ID()))
	require.NoError(t, r.SetRoom(p.ID(), "r1"))

	room, ok := r.Unregister(p.ID())
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), room)

	_, ok = r.Unregister(p.ID())
	assert.False(t, ok)
	assert.False(t, r.IsLive(p.ID()))
	assert.ErrorIs(t, r.SetRoom(p.ID(), "r1"), ErrNotConnected)
}

func TestRegistryClearRoomOnlyMatching(t *testing.T) {
	r := NewRegistry()
	p := coretest.NewPeer("c1")
	require.NoError(t, r.Register(p, ""))
	require.NoError(t, r.SetRoom("c1", "r2"))

	r.ClearRoom("c1", "r1")
	room, ok := r.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r2"), room)

	r.ClearRoom("c1", "r2")
	_, ok = r.RoomOf("c1")
	assert.False(t, ok)
}

func TestRegistrySweepTwoPhase(t *testing.T) {
	r := NewRegistry()
	a, b := coretest.NewPeer("c1"), coretest.NewPeer("c2")
	require.NoError(t, r.Register(a, ""))
	require.NoError(t, r.Register(b, ""))

	probe, dead := r.Sweep()
	assert.Len(t, probe, 2)
	assert.Empty(t, dead)

	r.MarkAlive("c1")
	probe, dead = r.Sweep()
	require.Len(t, probe, 1)
	assert.Equal(t, domain.ConnID("c1"), probe[0].ID())
	assert.Equal(t, []domain.ConnID{"c2"}, dead)
}
