package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberEntry struct {
	meta *domain.Member
	peer Peer
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id        domain.RoomID
	createdAt time.Time
	maxActive int

	mu     sync.RWMutex
	byConn map[domain.ConnID]memberEntry
}

// NewRoomService creates a room admitting at most maxActive non-spectator
// members. maxActive <= 0 means unbounded.
func NewRoomService(id domain.RoomID, maxActive int) RoomService {
	return &roomImpl{
		id:        id,
		createdAt: time.Now(),
		maxActive: maxActive,
		byConn:    make(map[domain.ConnID]memberEntry),
	}
}

func (r *roomImpl) ID() domain.RoomID    { return r.id }
func (r *roomImpl) CreatedAt() time.Time { return r.createdAt }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *roomImpl) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *roomImpl) activeLocked() int {
	n := 0
	for _, e := range r.byConn {
		if !e.meta.Spectator {
			n++
		}
	}
	return n
}

func (r *roomImpl) fullLocked() bool {
	return r.maxActive > 0 && r.activeLocked() >= r.maxActive
}

func (r *roomImpl) Has(id domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[id]
	return ok
}

func (r *roomImpl) AddMember(m *domain.Member, p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byConn[m.Conn]; ok {
		// A spectator turning active takes a seat like any newcomer.
		if prev.meta.Spectator && !m.Spectator && r.fullLocked() {
			return ErrRoomFull
		}
		r.byConn[m.Conn] = memberEntry{meta: m, peer: p}
		return nil
	}
	if !m.Spectator && r.fullLocked() {
		return ErrRoomFull
	}
	r.byConn[m.Conn] = memberEntry{meta: m, peer: p}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(m.Conn)).Bool("spectator", m.Spectator).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(id domain.ConnID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byConn[id]
	if ok {
		delete(r.byConn, id)
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(id)).Msg("member removed")
	}
	return len(r.byConn), ok
}

func (r *roomImpl) Broadcast(from domain.ConnID, data Frame, includeOrigin bool) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, e := range r.byConn {
		if id == from && !includeOrigin {
			continue
		}
		if err := e.peer.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Members() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(r.byConn))
	for id := range r.byConn {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byConn))
	for id, e := range r.byConn {
		out = append(out, MemberDTO{ID: id, Spectator: e.meta.Spectator, JoinedAt: e.meta.JoinedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}
