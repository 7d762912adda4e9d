package core

import (
	"encoding/json"

	"github.com/dkeye/DuelRelay/internal/domain"
)

// BridgeState is the replication bridge health.
type BridgeState string

const (
	BridgeUnconfigured BridgeState = "unconfigured"
	BridgeConnecting   BridgeState = "connecting"
	BridgeReady        BridgeState = "ready"
)

// QueueEntry is the shared, advisory view of one waiter.
type QueueEntry struct {
	Conn       domain.ConnID `json:"conn"`
	Stake      float64       `json:"stake"`
	Token      string        `json:"token,omitempty"`
	EnqueuedAt int64         `json:"enqueued_at"`
}

// RemoteEvent is a room broadcast crossing instances.
type RemoteEvent struct {
	Instance string          `json:"instance"`
	RoomID   domain.RoomID   `json:"roomId"`
	SenderID string          `json:"senderId"`
	Event    json.RawMessage `json:"event"`
	TS       int64           `json:"ts"`
}

// Replicator mirrors local state to a shared store. Implementations must
// never block the caller on network I/O and must drop writes while not
// ready.
type Replicator interface {
	InstanceID() string
	State() BridgeState
	PublishQueue(cat domain.Category, entries []QueueEntry)
	PublishRoom(id domain.RoomID, members []domain.ConnID)
	DeleteRoom(id domain.RoomID)
	PublishEvent(ev RemoteEvent)
	// OnEvent registers the handler for events from other instances.
	OnEvent(func(RemoteEvent))
}
