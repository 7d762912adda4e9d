package app

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("connection not registered")
	ErrDuplicateID  = errors.New("connection id already registered")
)

type connEntry struct {
	peer        core.Peer
	alive       bool
	roomID      domain.RoomID
	clientToken string
	connectedAt time.Time
	lastSeen    time.Time
}

// ConnInfo is a read-only view of a registered connection.
type ConnInfo struct {
	ID          domain.ConnID `json:"id"`
	Room        domain.RoomID `json:"room,omitempty"`
	Alive       bool          `json:"alive"`
	ConnectedAt time.Time     `json:"connected_at"`
	LastSeen    time.Time     `json:"last_seen"`
}

// Registry tracks every live connection of this process. It never calls
// back into other structures while holding its lock.
type Registry struct {
	seq atomic.Uint64

	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		now:   time.Now,
	}
}

// NextID hands out "c1", "c2", ... and never repeats within a process.
func (r *Registry) NextID() domain.ConnID {
	return domain.ConnIDFromSeq(r.seq.Add(1))
}

func (r *Registry) Register(p core.Peer, clientToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[p.ID()]; ok {
		return ErrDuplicateID
	}
	now := r.now()
	r.conns[p.ID()] = &connEntry{
		peer:        p,
		alive:       true,
		clientToken: clientToken,
		connectedAt: now,
		lastSeen:    now,
	}
	log.Info().Str("module", "app.registry").Str("conn", string(p.ID())).Int("total", len(r.conns)).Msg("connection registered")
	return nil
}

// Unregister drops the connection and returns the room it was in, if any.
// Calling it twice is harmless.
func (r *Registry) Unregister(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("total", len(r.conns)).Msg("connection unregistered")
	return e.roomID, true
}

func (r *Registry) Get(id domain.ConnID) (core.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.peer, true
	}
	return nil, false
}

func (r *Registry) ClientToken(id domain.ConnID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.clientToken
	}
	return ""
}

// IsLive reports whether the connection is registered. A connection marked
// suspect by the last sweep still counts as live until the next one.
func (r *Registry) IsLive(id domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// MarkAlive records a sign of life (pong or any inbound message).
func (r *Registry) MarkAlive(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.alive = true
		e.lastSeen = r.now()
	}
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.roomID == "" {
		return "", false
	}
	return e.roomID, true
}

func (r *Registry) SetRoom(id domain.ConnID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrNotConnected
	}
	e.roomID = room
	return nil
}

// ClearRoom unsets the room only if it still equals room.
func (r *Registry) ClearRoom(id domain.ConnID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok && e.roomID == room {
		e.roomID = ""
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnInfo, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, ConnInfo{ID: id, Room: e.roomID, Alive: e.alive, ConnectedAt: e.connectedAt, LastSeen: e.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Sweep flips every live connection to suspect and returns it for probing.
// Connections that were still suspect from the previous sweep are returned
// as dead; the caller terminates them.
func (r *Registry) Sweep() (probe []core.Peer, dead []domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.conns {
		if !e.alive {
			dead = append(dead, id)
			continue
		}
		e.alive = false
		probe = append(probe, e.peer)
	}
	return probe, dead
}
