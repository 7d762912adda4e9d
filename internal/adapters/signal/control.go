package signal

import "github.com/dkeye/DuelRelay/internal/domain"

func (ctl *SignalWSController) handlePing(id domain.ConnID) {
	ctl.Orch.SendPong(id)
}
