package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/DuelRelay/internal/domain"
)

// Outbound messages. Each carries its own "type" tag.

type Queued struct {
	Type     string          `json:"type"`
	Category domain.Category `json:"category"`
}

type MatchFound struct {
	Type     string          `json:"type"`
	Role     domain.Role     `json:"role"`
	Category domain.Category `json:"category"`
	Stake    float64         `json:"stake"`
	DuelID   domain.DuelID   `json:"duelId"`
}

type Joined struct {
	Type     string          `json:"type"`
	RoomID   domain.RoomID   `json:"roomId"`
	ClientID domain.ConnID   `json:"clientId"`
	Members  []domain.ConnID `json:"members"`
}

type Left struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type Event struct {
	Type     string          `json:"type"`
	RoomID   domain.RoomID   `json:"roomId"`
	SenderID string          `json:"senderId"`
	Event    json.RawMessage `json:"event"`
	TS       int64           `json:"ts"`
}

type LeftQueue struct {
	Type     string          `json:"type"`
	Category domain.Category `json:"category"`
}

type PongReply struct {
	Type string `json:"type"`
}

type Settlement struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	TypeQueued     = "queued"
	TypeMatchFound = "match_found"
	TypeJoined     = "joined"
	TypeLeft       = "left"
	TypeEvent      = "event"
	TypeLeftQueue  = "left_queue"
	TypeSettlement = "settlement"
	TypeError      = "error"
)

const MsgInvalidFormat = "Invalid message format"

func NewQueued(c domain.Category) Queued { return Queued{Type: TypeQueued, Category: c} }

func NewMatchFound(role domain.Role, c domain.Category, stake float64, id domain.DuelID) MatchFound {
	return MatchFound{Type: TypeMatchFound, Role: role, Category: c, Stake: stake, DuelID: id}
}

func NewJoined(room domain.RoomID, client domain.ConnID, members []domain.ConnID) Joined {
	return Joined{Type: TypeJoined, RoomID: room, ClientID: client, Members: members}
}

func NewLeft(room domain.RoomID) Left { return Left{Type: TypeLeft, RoomID: room} }

func NewEvent(room domain.RoomID, sender string, event json.RawMessage, at time.Time) Event {
	return Event{Type: TypeEvent, RoomID: room, SenderID: sender, Event: event, TS: at.UnixMilli()}
}

func NewLeftQueue(c domain.Category) LeftQueue { return LeftQueue{Type: TypeLeftQueue, Category: c} }

func NewPong() PongReply { return PongReply{Type: TypePong} }

func NewSettlement(action string, ok bool, message string) Settlement {
	return Settlement{Type: TypeSettlement, Action: action, OK: ok, Message: message}
}

func NewError(message string) Error { return Error{Type: TypeError, Message: message} }

// Encode marshals an outbound message into a text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
