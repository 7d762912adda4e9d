package core_test

import (
	"testing"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/core/coretest"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCapsActiveMembers(t *testing.T) {
	r := core.NewRoomService("r1", 2)

	require.NoError(t, r.AddMember(domain.NewMember("c1", false), coretest.NewPeer("c1")))
	require.NoError(t, r.AddMember(domain.NewMember("c2", false), coretest.NewPeer("c2")))
	err := r.AddMember(domain.NewMember("c3", false), coretest.NewPeer("c3"))
	assert.ErrorIs(t, err, core.ErrRoomFull)

	require.NoError(t, r.AddMember(domain.NewMember("c4", true), coretest.NewPeer("c4")))
	assert.Equal(t, 3, r.MemberCount())
	assert.Equal(t, 2, r.ActiveCount())
	assert.Equal(t, []domain.ConnID{"c1", "c2", "c4"}, r.Members())
}

func TestRoomRejoinIsIdempotent(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	p := coretest.NewPeer("c1")
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), p))
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), p))
	assert.Equal(t, 1, r.MemberCount())
}

func TestRoomRemoveMember(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), coretest.NewPeer("c1")))

	left, ok := r.RemoveMember("c1")
	assert.True(t, ok)
	assert.Equal(t, 0, left)

	_, ok = r.RemoveMember("c1")
	assert.False(t, ok)
}

func TestRoomBroadcastEcho(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	a, b := coretest.NewPeer("c1"), coretest.NewPeer("c2")
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), a))
	require.NoError(t, r.AddMember(domain.NewMember("c2", false), b))

	res := r.Broadcast("c1", core.Frame(`{"type":"event"}`), true)
	assert.Equal(t, 2, res.SendTo)
	assert.Len(t, a.Frames(), 1)

	res = r.Broadcast("c1", core.Frame(`{"type":"event"}`), false)
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, a.Frames(), 1)
	assert.Len(t, b.Frames(), 2)
}

func TestRoomBroadcastReportsBackpressure(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	slow := coretest.NewPeer("c2")
	slow.Capacity = 1
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), coretest.NewPeer("c1")))
	require.NoError(t, r.AddMember(domain.NewMember("c2", false), slow))

	r.Broadcast("c1", core.Frame(`{}`), false)
	res := r.Broadcast("c1", core.Frame(`{}`), false)
	assert.Equal(t, []domain.ConnID{"c2"}, res.Dropped)
}

func TestRoomSpectatorCannotTakeThirdSeat(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), coretest.NewPeer("c1")))
	require.NoError(t, r.AddMember(domain.NewMember("c2", false), coretest.NewPeer("c2")))
	watcher := coretest.NewPeer("c3")
	require.NoError(t, r.AddMember(domain.NewMember("c3", true), watcher))

	err := r.AddMember(domain.NewMember("c3", false), watcher)
	assert.ErrorIs(t, err, core.ErrRoomFull)
	assert.Equal(t, 2, r.ActiveCount())

	snap := r.MembersSnapshot()
	require.Len(t, snap, 3)
	for _, m := range snap {
		if m.ID == "c3" {
			assert.True(t, m.Spectator)
		}
	}
}

func TestRoomSpectatorTakesFreeSeat(t *testing.T) {
	r := core.NewRoomService("r1", 2)
	require.NoError(t, r.AddMember(domain.NewMember("c1", false), coretest.NewPeer("c1")))
	p := coretest.NewPeer("c2")
	require.NoError(t, r.AddMember(domain.NewMember("c2", true), p))
	require.NoError(t, r.AddMember(domain.NewMember("c2", false), p))
	assert.Equal(t, 2, r.ActiveCount())
	assert.True(t, r.Has("c2"))
	assert.False(t, r.Has("c9"))
}
