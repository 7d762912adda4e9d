package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

type (
	RoomID string
	DuelID string
)

func NewRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// NewDuelID returns "0x" followed by 32 random bytes in hex.
func NewDuelID() DuelID {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return DuelID("0x" + hex.EncodeToString(b[:]))
}

// Role is informational only; the relay does not enforce it.
type Role string

const (
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
)

func (r Role) Opposite() Role {
	if r == RoleCreator {
		return RoleJoiner
	}
	return RoleCreator
}
