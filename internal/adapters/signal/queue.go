package signal

import (
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleQueue(id domain.ConnID, m protocol.Queue) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("category", m.Category).Msg("queue")
	if err := ctl.Orch.Queue(id, m); err != nil {
		ctl.replyError(id, err)
	}
}
