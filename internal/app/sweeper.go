package app

import (
	"context"
	"time"

	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Terminator force-closes a connection and cleans up everything it held.
type Terminator interface {
	Terminate(id domain.ConnID, reason string)
	ReconcileQueues()
}

// Sweeper probes every connection on a fixed interval. A connection that
// has not shown any sign of life since the previous sweep is terminated.
type Sweeper struct {
	Registry *Registry
	Term     Terminator
	Interval time.Duration
}

func NewSweeper(reg *Registry, term Terminator, interval time.Duration) *Sweeper {
	return &Sweeper{Registry: reg, Term: term, Interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	log.Info().Str("module", "app.sweeper").Dur("interval", s.Interval).Msg("liveness sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("liveness sweep stopped")
			return
		case <-t.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single probe/terminate round and returns the terminated
// connections.
func (s *Sweeper) SweepOnce() []domain.ConnID {
	probe, dead := s.Registry.Sweep()
	for _, p := range probe {
		if err := p.Probe(); err != nil {
			log.Debug().Err(err).Str("module", "app.sweeper").Str("conn", string(p.ID())).Msg("probe failed")
			dead = append(dead, p.ID())
		}
	}
	for _, id := range dead {
		s.Term.Terminate(id, "liveness")
	}
	s.Term.ReconcileQueues()
	if len(dead) > 0 {
		log.Info().Str("module", "app.sweeper").Int("terminated", len(dead)).Int("probed", len(probe)).Msg("sweep")
	}
	return dead
}
