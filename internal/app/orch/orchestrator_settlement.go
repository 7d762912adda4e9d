package orch

import (
	"context"
	"time"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	ActionRegisterEligible = "register_eligible"
	ActionConfirmOutcome   = "confirm_outcome"
)

// Complete forwards a reported duel outcome to settlement.
func (o *Orchestrator) Complete(id domain.ConnID, msg protocol.Complete) {
	req := core.OutcomeRequest{DuelID: msg.DuelID, Winner: msg.Winner, Reporter: id}
	if roomID, ok := o.Registry.RoomOf(id); ok {
		req.RoomID = roomID
	}
	o.settle(id, ActionConfirmOutcome, func(ctx context.Context, s core.Settler) error {
		return s.ConfirmOutcome(ctx, req)
	})
}

func (o *Orchestrator) registerEligible(id domain.ConnID, address string, identity domain.Identity) {
	req := core.EligibilityRequest{
		Address:     address,
		Identity:    identity,
		ClientToken: o.Registry.ClientToken(id),
		Conn:        id,
	}
	o.settle(id, ActionRegisterEligible, func(ctx context.Context, s core.Settler) error {
		return s.RegisterEligible(ctx, req)
	})
}

// settle runs call in the background. The relay never waits on settlement;
// the outcome is reported back to the connection if it is still there.
func (o *Orchestrator) settle(id domain.ConnID, action string, call func(context.Context, core.Settler) error) {
	if o.Settler == nil || !o.Settler.Enabled() {
		log.Debug().Str("module", "orch").Str("action", action).Msg("settlement disabled")
		_ = o.send(id, protocol.NewSettlement(action, false, "settlement disabled"))
		return
	}
	base := o.BaseCtx
	if base == nil {
		base = context.Background()
	}
	timeout := o.SettlementTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()

		if err := call(ctx, o.Settler); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Str("action", action).Msg("settlement call failed")
			_ = o.send(id, protocol.NewSettlement(action, false, err.Error()))
			return
		}
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("action", action).Msg("settlement call succeeded")
		_ = o.send(id, protocol.NewSettlement(action, true, ""))
	}()
}
