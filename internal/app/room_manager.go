package app

import (
	"sort"
	"sync"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	maxActive int

	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

// NewRoomManager creates rooms that admit at most maxActive non-spectators.
func NewRoomManager(maxActive int) core.RoomManager {
	return &RoomManagerImpl{
		maxActive: maxActive,
		rooms:     make(map[domain.RoomID]core.RoomService),
	}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreateLocked(id)
}

func (f *RoomManagerImpl) getOrCreateLocked(id domain.RoomID) core.RoomService {
	if room, ok := f.rooms[id]; ok {
		return room
	}
	room := core.NewRoomService(id, f.maxActive)
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Int("total", len(f.rooms)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// Join adds the member, creating the room if needed.
func (f *RoomManagerImpl) Join(id domain.RoomID, m *domain.Member, p core.Peer) (core.RoomService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.getOrCreateLocked(id)
	if err := room.AddMember(m, p); err != nil {
		return nil, err
	}
	return room, nil
}

func (f *RoomManagerImpl) Leave(id domain.RoomID, conn domain.ConnID) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return false, false
	}
	remaining, removed := room.RemoveMember(conn)
	if remaining > 0 {
		return removed, false
	}
	delete(f.rooms, id)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Int("total", len(f.rooms)).Msg("room deleted")
	return removed, true
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount(), CreatedAt: r.CreatedAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *RoomManagerImpl) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}
