package orch

import (
	"time"

	"github.com/dkeye/DuelRelay/internal/app"
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// JoinRoom places the connection in the room, leaving any previous one.
func (o *Orchestrator) JoinRoom(id domain.ConnID, msg protocol.Join) error {
	roomID, err := domain.NewRoomID(msg.RoomID)
	if err != nil {
		return err
	}
	peer, ok := o.Registry.Get(id)
	if !ok {
		return app.ErrNotConnected
	}
	if prev, ok := o.Registry.RoomOf(id); ok && prev != roomID {
		o.leaveRoom(id, prev)
		o.Registry.ClearRoom(id, prev)
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("from_room", string(prev)).Msg("left previous room")
	}

	room, err := o.Rooms.Join(roomID, domain.NewMember(id, msg.Spectator), peer)
	if err != nil {
		return err
	}
	if err := o.Registry.SetRoom(id, roomID); err != nil {
		// Closed while joining.
		o.leaveRoom(id, roomID)
		return err
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Int("members", room.MemberCount()).Msg("joined room")

	members := room.Members()
	o.publishRoom(roomID, members)
	return o.send(id, protocol.NewJoined(roomID, id, members))
}

// LeaveRoom takes the connection out of its room; the connection stays open.
func (o *Orchestrator) LeaveRoom(id domain.ConnID) error {
	roomID, ok := o.Registry.RoomOf(id)
	if !ok {
		return ErrNotInRoom
	}
	o.leaveRoom(id, roomID)
	o.Registry.ClearRoom(id, roomID)
	return o.send(id, protocol.NewLeft(roomID))
}

func (o *Orchestrator) leaveRoom(id domain.ConnID, roomID domain.RoomID) {
	removed, deleted := o.Rooms.Leave(roomID, id)
	switch {
	case deleted:
		o.replicator().DeleteRoom(roomID)
	case removed:
		if room, ok := o.Rooms.Get(roomID); ok {
			o.publishRoom(roomID, room.Members())
		}
	}
}

func (o *Orchestrator) publishRoom(roomID domain.RoomID, members []domain.ConnID) {
	b := o.replicator()
	if b.State() != core.BridgeReady {
		return
	}
	b.PublishRoom(roomID, members)
}

// Broadcast relays an event to every member of the sender's room and to the
// other relay instances.
func (o *Orchestrator) Broadcast(id domain.ConnID, msg protocol.Broadcast) error {
	roomID, ok := o.Registry.RoomOf(id)
	if !ok {
		return ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok || !room.Has(id) {
		return ErrNotInRoom
	}
	at := o.clock()
	frame, err := protocol.Encode(protocol.NewEvent(roomID, string(id), msg.Event, at))
	if err != nil {
		return err
	}
	res := room.Broadcast(id, frame, o.Echo.IncludeOrigin(msg.EventType()))
	o.handleDropped(room, res)

	b := o.replicator()
	if b.State() == core.BridgeReady {
		b.PublishEvent(core.RemoteEvent{
			Instance: b.InstanceID(),
			RoomID:   roomID,
			SenderID: b.InstanceID() + "/" + string(id),
			Event:    msg.Event,
			TS:       at.UnixMilli(),
		})
	}
	return nil
}

// DeliverRemote fans an event from another instance out to local members.
func (o *Orchestrator) DeliverRemote(ev core.RemoteEvent) {
	if ev.Instance == o.replicator().InstanceID() {
		return
	}
	room, ok := o.Rooms.Get(ev.RoomID)
	if !ok {
		return
	}
	frame, err := protocol.Encode(protocol.NewEvent(ev.RoomID, ev.SenderID, ev.Event, time.UnixMilli(ev.TS)))
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("remote event encode")
		return
	}
	o.handleDropped(room, room.Broadcast("", frame, true))
}

func (o *Orchestrator) handleDropped(room core.RoomService, res core.PublishResult) {
	for _, slow := range res.Dropped {
		o.onSlow(room, slow)
	}
}
