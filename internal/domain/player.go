// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MaxCategoryLen = 64
	MaxRoomIDLen   = 128
)

var (
	ErrCategoryEmpty   = errors.New("category empty")
	ErrCategoryTooLong = errors.New("category too long")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
	ErrNegativeStake   = errors.New("stake must not be negative")
)

// ConnID is a process-unique connection identifier ("c1", "c2", ...).
type ConnID string

func ConnIDFromSeq(n uint64) ConnID { return ConnID(fmt.Sprintf("c%d", n)) }

// Category names a matchmaking queue, e.g. "general".
type Category string

func NewCategory(raw string) (Category, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrCategoryEmpty
	}
	if len(raw) > MaxCategoryLen {
		return "", ErrCategoryTooLong
	}
	return Category(raw), nil
}

// Identity is the self-reported proof bundle a client sends with a queue
// request. The relay never verifies it.
type Identity struct {
	Human      bool   `json:"human"`
	ProofToken string `json:"proofToken,omitempty"`
	AgeOver18  bool   `json:"ageOver18,omitempty"`
	AgeOver21  bool   `json:"ageOver21,omitempty"`
}

// Eligible reports whether the bundle is worth forwarding to settlement.
func (i *Identity) Eligible() bool {
	return i != nil && i.Human && i.ProofToken != ""
}

// Player is what a connection says about itself when it asks for a duel.
type Player struct {
	Address  string    `json:"address,omitempty"`
	Token    string    `json:"token,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
}
