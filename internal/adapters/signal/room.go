package signal

import (
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(id domain.ConnID, m protocol.Join) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", m.RoomID).Bool("spectator", m.Spectator).Msg("join")
	if err := ctl.Orch.JoinRoom(id, m); err != nil {
		ctl.replyError(id, err)
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(id domain.ConnID) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	if err := ctl.Orch.LeaveRoom(id); err != nil {
		ctl.replyError(id, err)
	}
}

func (ctl *SignalWSController) handleBroadcast(id domain.ConnID, m protocol.Broadcast) {
	if err := ctl.Orch.Broadcast(id, m); err != nil {
		ctl.replyError(id, err)
	}
}
