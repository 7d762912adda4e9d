package core

import (
	"context"

	"github.com/dkeye/DuelRelay/internal/domain"
)

type EligibilityRequest struct {
	Address     string          `json:"address"`
	Identity    domain.Identity `json:"identity"`
	ClientToken string          `json:"clientToken,omitempty"`
	Conn        domain.ConnID   `json:"conn"`
}

type OutcomeRequest struct {
	DuelID   string        `json:"duelId"`
	Winner   string        `json:"winner"`
	Reporter domain.ConnID `json:"reporter"`
	RoomID   domain.RoomID `json:"roomId,omitempty"`
}

// Settler talks to the external settlement service.
type Settler interface {
	Enabled() bool
	RegisterEligible(ctx context.Context, req EligibilityRequest) error
	ConfirmOutcome(ctx context.Context, req OutcomeRequest) error
}
