// Package bridge mirrors queue and room state across relay instances.
package bridge

import (
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
)

// Disabled is used when no shared store is configured. Every write is a
// no-op and the instance runs standalone.
type Disabled struct {
	ID string
}

func (d Disabled) InstanceID() string { return d.ID }
func (Disabled) State() core.BridgeState { return core.BridgeUnconfigured }
func (Disabled) PublishQueue(domain.Category, []core.QueueEntry) {}
func (Disabled) PublishRoom(domain.RoomID, []domain.ConnID) {}
func (Disabled) DeleteRoom(domain.RoomID) {}
func (Disabled) PublishEvent(core.RemoteEvent) {}
func (Disabled) OnEvent(func(core.RemoteEvent)) {}
