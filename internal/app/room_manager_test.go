package app

import (
	"testing"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/core/coretest"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomManagerJoinLeaveDeletesEmpty(t *testing.T) {
	rm := NewRoomManager(2)
	_, err := rm.Join("r1", domain.NewMember("c1", false), coretest.NewPeer("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rm.Count())

	removed, deleted := rm.Leave("r1", "c1")
	assert.True(t, removed)
	assert.True(t, deleted)
	assert.Equal(t, 0, rm.Count())

	removed, deleted = rm.Leave("r1", "c1")
	assert.False(t, removed)
	assert.False(t, deleted)
}

func TestRoomManagerGetOrCreateIsIdempotent(t *testing.T) {
	rm := NewRoomManager(2)
	a := rm.GetOrCreate("r1")
	b := rm.GetOrCreate("r1")
	assert.Same(t, a, b)
}

func TestRoomManagerFullRoom(t *testing.T) {
	rm := NewRoomManager(2)
	for _, id := range []domain.ConnID{"c1", "c2"} {
		_, err := rm.Join("r1", domain.NewMember(id, false), coretest.NewPeer(id))
		require.NoError(t, err)
	}
	_, err := rm.Join("r1", domain.NewMember("c3", false), coretest.NewPeer("c3"))
	assert.ErrorIs(t, err, core.ErrRoomFull)

	room, ok := rm.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 2, room.MemberCount())
	require.Len(t, rm.List(), 1)
	assert.Equal(t, 2, rm.List()[0].MemberCount)
}

func TestEchoPolicy(t *testing.T) {
	assert.True(t, NewEchoPolicy(true, nil).IncludeOrigin("answer"))

	p := NewEchoPolicy(false, []string{"hello"})
	assert.True(t, p.IncludeOrigin("hello"))
	assert.False(t, p.IncludeOrigin("answer"))
	assert.False(t, p.IncludeOrigin(""))
}
