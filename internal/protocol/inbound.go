// Package protocol defines the JSON messages exchanged between duel clients
// and the relay.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

// Inbound is the closed set of client -> relay messages.
type Inbound interface {
	inbound()
	Kind() string
}

type Queue struct {
	Category string           `json:"category" validate:"required,max=64"`
	Stake    *float64         `json:"stake" validate:"required,gte=0"`
	Token    string           `json:"token,omitempty" validate:"max=32"`
	Address  string           `json:"address,omitempty" validate:"omitempty,max=128"`
	Identity *domain.Identity `json:"identity,omitempty"`
}

type LeaveQueue struct{}

type Join struct {
	RoomID    string `json:"roomId" validate:"required,max=128"`
	Spectator bool   `json:"spectator,omitempty"`
}

type Leave struct{}

type Broadcast struct {
	Event json.RawMessage `json:"event" validate:"required"`
}

// EventType returns the optional "type" field of the relayed event.
func (b Broadcast) EventType() string {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(b.Event, &head)
	return head.Type
}

type Ping struct{}

type Pong struct{}

type Status struct {
	Phase  string          `json:"phase" validate:"required,max=64"`
	DuelID string          `json:"duelId,omitempty"`
	Extra  json.RawMessage `json:"extra,omitempty"`
}

type Complete struct {
	DuelID string `json:"duelId" validate:"required,max=128"`
	Winner string `json:"winner" validate:"required,max=128"`
}

func (Queue) inbound()      {}
func (LeaveQueue) inbound() {}
func (Join) inbound()       {}
func (Leave) inbound()      {}
func (Broadcast) inbound()  {}
func (Ping) inbound()       {}
func (Pong) inbound()       {}
func (Status) inbound()     {}
func (Complete) inbound()   {}

func (Queue) Kind() string      { return TypeQueue }
func (LeaveQueue) Kind() string { return TypeLeaveQueue }
func (Join) Kind() string       { return TypeJoin }
func (Leave) Kind() string      { return TypeLeave }
func (Broadcast) Kind() string  { return TypeBroadcast }
func (Ping) Kind() string       { return TypePing }
func (Pong) Kind() string       { return TypePong }
func (Status) Kind() string     { return TypeStatus }
func (Complete) Kind() string   { return TypeComplete }

const (
	TypeQueue      = "queue"
	TypeLeaveQueue = "leave_queue"
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeBroadcast  = "broadcast"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeStatus     = "status"
	TypeComplete   = "complete"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses one client frame. Errors wrap ErrMalformed, ErrUnknownType or
// ErrInvalid.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Inbound
	switch env.Type {
	case TypeQueue:
		var m Queue
		if err := unmarshalValid(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeLeaveQueue:
		msg = LeaveQueue{}
	case TypeJoin:
		var m Join
		if err := unmarshalValid(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeLeave:
		msg = Leave{}
	case TypeBroadcast:
		var m Broadcast
		if err := unmarshalValid(data, &m); err != nil {
			return nil, err
		}
		if !isObject(m.Event) {
			return nil, fmt.Errorf("%w: event must be a JSON object", ErrInvalid)
		}
		msg = m
	case TypePing:
		msg = Ping{}
	case TypePong:
		msg = Pong{}
	case TypeStatus:
		var m Status
		if err := unmarshalValid(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeComplete:
		var m Complete
		if err := unmarshalValid(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

func unmarshalValid(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 1 && raw[0] == '{'
}
