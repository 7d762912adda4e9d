package core

import (
	"errors"
	"time"

	"github.com/dkeye/DuelRelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrPeerClosed   = errors.New("connection closed")
	ErrRoomFull     = errors.New("room is full")
)

// Frame is one encoded text message.
type Frame []byte

// Peer abstracts a client transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type Peer interface {
	ID() domain.ConnID
	// TrySend never blocks; a full buffer yields ErrBackpressure.
	TrySend(Frame) error
	// Probe sends a liveness ping at the transport level.
	Probe() error
	Close()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID        domain.ConnID `json:"id"`
	Spectator bool          `json:"spectator"`
	JoinedAt  time.Time     `json:"joined_at"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources beyond
// non-blocking sends.
type RoomService interface {
	ID() domain.RoomID
	CreatedAt() time.Time
	MemberCount() int
	ActiveCount() int
	Members() []domain.ConnID
	MembersSnapshot() []MemberDTO
	Has(id domain.ConnID) bool

	AddMember(m *domain.Member, p Peer) error
	RemoveMember(id domain.ConnID) (remaining int, ok bool)
	Broadcast(from domain.ConnID, data Frame, includeOrigin bool) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RoomManager owns the set of rooms. Join and Leave are atomic with respect
// to room creation and deletion.
type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	Join(id domain.RoomID, m *domain.Member, p Peer) (RoomService, error)
	// Leave reports whether the connection was a member and whether the
	// room was deleted because it became empty.
	Leave(id domain.RoomID, conn domain.ConnID) (removed, deleted bool)
	List() []RoomInfo
	Count() int
}
