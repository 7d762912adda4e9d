// Package coretest provides in-memory fakes for core interfaces.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
)

// Peer records every frame it is sent. A zero Capacity never fills up.
type Peer struct {
	id       domain.ConnID
	Capacity int

	mu       sync.Mutex
	frames   []core.Frame
	probes   int
	closed   bool
	probeErr error
}

func NewPeer(id domain.ConnID) *Peer { return &Peer{id: id} }

func (p *Peer) ID() domain.ConnID { return p.id }

func (p *Peer) TrySend(f core.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	if p.Capacity > 0 && len(p.frames) >= p.Capacity {
		return core.ErrBackpressure
	}
	p.frames = append(p.frames, f)
	return nil
}

func (p *Peer) Probe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	p.probes++
	return p.probeErr
}

func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// FailProbes makes every later Probe return err.
func (p *Peer) FailProbes(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeErr = err
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// Frames returns a copy of everything sent so far.
func (p *Peer) Frames() []core.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

// Messages decodes every frame into a generic map.
func (p *Peer) Messages() []map[string]any {
	var out []map[string]any
	for _, f := range p.Frames() {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the decoded messages whose "type" equals typ.
func (p *Peer) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range p.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (p *Peer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}
