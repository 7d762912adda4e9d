package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/DuelRelay/internal/app"
	"github.com/dkeye/DuelRelay/internal/bridge"
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotInRoom = errors.New("not in a room")

// Orchestrator coordinates the registry, the matchmaker, the rooms and the
// outside collaborators. It is the only component that sends protocol
// messages to peers.
type Orchestrator struct {
	Registry   *app.Registry
	Matchmaker *app.Matchmaker
	Rooms      core.RoomManager
	Policy     app.Policy
	Echo       app.EchoPolicy
	Bridge     core.Replicator
	Settler    core.Settler

	// SettlementTimeout bounds each settlement call.
	SettlementTimeout time.Duration

	BaseCtx   context.Context
	StartedAt time.Time

	wg  sync.WaitGroup
	now func() time.Time
}

// New wires an orchestrator with default collaborators.
func New(reg *app.Registry, rooms core.RoomManager) *Orchestrator {
	return &Orchestrator{
		Registry:   reg,
		Matchmaker: app.NewMatchmaker(reg),
		Rooms:      rooms,
		Policy:     app.SimplePolicy{},
		Echo:       app.NewEchoPolicy(true, nil),
		Bridge:     bridge.Disabled{},
		BaseCtx:    context.Background(),
		StartedAt:  time.Now(),
		now:        time.Now,
	}
}

func (o *Orchestrator) clock() time.Time {
	if o.now == nil {
		return time.Now()
	}
	return o.now()
}

func (o *Orchestrator) replicator() core.Replicator {
	if o.Bridge == nil {
		return bridge.Disabled{}
	}
	return o.Bridge
}

// Connect registers a freshly accepted peer.
func (o *Orchestrator) Connect(p core.Peer, clientToken string) error {
	return o.Registry.Register(p, clientToken)
}

// Touch records inbound activity.
func (o *Orchestrator) Touch(id domain.ConnID) {
	o.Registry.MarkAlive(id)
}

// OnDisconnect cleans up after a transport close. Safe to call repeatedly.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	o.cleanup(id, "closed")
}

// Terminate force-closes the peer and cleans up after it.
func (o *Orchestrator) Terminate(id domain.ConnID, reason string) {
	peer, ok := o.Registry.Get(id)
	o.cleanup(id, reason)
	if ok {
		peer.Close()
	}
}

// ReconcileQueues drops waiters whose connections are gone.
func (o *Orchestrator) ReconcileQueues() {
	touched := map[domain.Category]struct{}{}
	for _, w := range o.Matchmaker.Reconcile() {
		touched[w.Category] = struct{}{}
	}
	for cat := range touched {
		o.publishQueue(cat)
	}
}

func (o *Orchestrator) cleanup(id domain.ConnID, reason string) {
	// Unregister first so concurrent scans stop seeing the connection.
	roomID, registered := o.Registry.Unregister(id)
	if cat, ok := o.Matchmaker.Leave(id); ok {
		o.publishQueue(cat)
	}
	if registered && roomID != "" {
		o.leaveRoom(id, roomID)
	}
	if registered {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("reason", reason).Msg("connection cleaned up")
	}
}

// send encodes v and pushes it to the peer without blocking.
func (o *Orchestrator) send(id domain.ConnID, v any) error {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return app.ErrNotConnected
	}
	frame, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	if err := peer.TrySend(frame); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			o.onSlow(nil, id)
		}
		return err
	}
	return nil
}

// SendError replies with a protocol error message.
func (o *Orchestrator) SendError(id domain.ConnID, message string) {
	if err := o.send(id, protocol.NewError(message)); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("error reply not delivered")
	}
}

// SendPong answers an application-level heartbeat.
func (o *Orchestrator) SendPong(id domain.ConnID) {
	_ = o.send(id, protocol.NewPong())
}

func (o *Orchestrator) onSlow(room core.RoomService, id domain.ConnID) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, id) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("slow consumer kicked")
		o.Terminate(id, "backpressure")
	case app.DropFrame, app.NoAction:
	}
}

// ReportStatus logs client lifecycle telemetry.
func (o *Orchestrator) ReportStatus(id domain.ConnID, msg protocol.Status) {
	ev := log.Info().Str("module", "orch").Str("conn", string(id)).Str("phase", msg.Phase)
	if msg.DuelID != "" {
		ev = ev.Str("duel", msg.DuelID)
	}
	if len(msg.Extra) > 0 {
		ev = ev.RawJSON("extra", msg.Extra)
	}
	ev.Msg("client status")
}

// Stats is the health view of this instance.
type Stats struct {
	Status          string                  `json:"status"`
	Instance        string                  `json:"instance"`
	Connections     int                     `json:"connections"`
	Rooms           int                     `json:"rooms"`
	Waiting         int                     `json:"waiting"`
	Queues          map[domain.Category]int `json:"queues"`
	Bridge          core.BridgeState        `json:"bridge"`
	BridgeReachable bool                    `json:"bridge_reachable"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
}

func (o *Orchestrator) Stats() Stats {
	b := o.replicator()
	return Stats{
		Status:          "ok",
		Instance:        b.InstanceID(),
		Connections:     o.Registry.Count(),
		Rooms:           o.Rooms.Count(),
		Waiting:         o.Matchmaker.Waiting(),
		Queues:          o.Matchmaker.Sizes(),
		Bridge:          b.State(),
		BridgeReachable: b.State() == core.BridgeReady,
		UptimeSeconds:   int64(o.clock().Sub(o.StartedAt).Seconds()),
	}
}

// Wait blocks until in-flight settlement calls have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
