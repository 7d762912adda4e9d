package orch

import (
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Queue handles a matchmaking request: it either pairs the connection with
// a waiter of the same category or parks it in the queue.
func (o *Orchestrator) Queue(id domain.ConnID, msg protocol.Queue) error {
	cat, err := domain.NewCategory(msg.Category)
	if err != nil {
		return err
	}
	var stake float64
	if msg.Stake != nil {
		stake = *msg.Stake
	}
	if stake < 0 {
		return domain.ErrNegativeStake
	}
	w := domain.Waiter{
		Conn:     id,
		Category: cat,
		Stake:    stake,
		Player: domain.Player{
			Address:  msg.Address,
			Token:    msg.Token,
			Identity: msg.Identity,
		},
		EnqueuedAt: o.clock(),
	}

	if msg.Identity.Eligible() && msg.Address != "" {
		o.registerEligible(id, msg.Address, *msg.Identity)
	}

	// Each failed notification consumes the vanished waiter, so the scan
	// ends with either a pairing or this connection parked in the queue.
	for attempt := 1; ; attempt++ {
		p, matched, err := o.Matchmaker.Enqueue(w)
		if err != nil {
			return err
		}
		if !matched {
			o.publishQueue(cat)
			if err := o.send(id, protocol.NewQueued(cat)); err != nil {
				log.Debug().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("queued ack not delivered")
			}
			return nil
		}

		creatorMsg := protocol.NewMatchFound(domain.RoleCreator, p.Category, p.Stake, p.DuelID)
		if err := o.send(p.Creator.Conn, creatorMsg); err != nil {
			// The waiter vanished between the scan and the notification.
			log.Info().Err(err).Str("module", "orch").
				Str("creator", string(p.Creator.Conn)).
				Str("joiner", string(id)).
				Int("attempt", attempt).
				Msg("creator unreachable, rescanning")
			continue
		}
		joinerMsg := protocol.NewMatchFound(domain.RoleJoiner, p.Category, p.Stake, p.DuelID)
		if err := o.send(id, joinerMsg); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("joiner", string(id)).Str("duel", string(p.DuelID)).Msg("joiner unreachable after pairing")
		}
		o.publishQueue(cat)
		return nil
	}
}

// LeaveQueue removes the connection from its queue. Silent when it was not
// queued.
func (o *Orchestrator) LeaveQueue(id domain.ConnID) {
	cat, ok := o.Matchmaker.Leave(id)
	if !ok {
		return
	}
	o.publishQueue(cat)
	_ = o.send(id, protocol.NewLeftQueue(cat))
}

func (o *Orchestrator) publishQueue(cat domain.Category) {
	b := o.replicator()
	if b.State() != core.BridgeReady {
		return
	}
	list := o.Matchmaker.Snapshot(cat)
	entries := make([]core.QueueEntry, 0, len(list))
	for _, w := range list {
		entries = append(entries, core.QueueEntry{
			Conn:       w.Conn,
			Stake:      w.Stake,
			Token:      w.Player.Token,
			EnqueuedAt: w.EnqueuedAt.UnixMilli(),
		})
	}
	b.PublishQueue(cat, entries)
}
