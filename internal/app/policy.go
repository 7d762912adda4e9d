package app

import (
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member domain.ConnID) BackpressureAction
}

// SimplePolicy disconnects any member that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, domain.ConnID) BackpressureAction {
	return KickMember
}

// EchoPolicy decides whether a broadcast is also delivered to its sender.
type EchoPolicy struct {
	All   bool
	Types map[string]struct{}
}

func NewEchoPolicy(all bool, types []string) EchoPolicy {
	p := EchoPolicy{All: all, Types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		p.Types[t] = struct{}{}
	}
	return p
}

func (p EchoPolicy) IncludeOrigin(eventType string) bool {
	if p.All {
		return true
	}
	_, ok := p.Types[eventType]
	return ok
}
