// Package resilient is a client-side message channel that survives transport
// loss: it queues while disconnected, heartbeats while connected and
// reconnects with capped exponential backoff.
package resilient

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrClosed           = errors.New("channel closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an input to the Machine.
type Event interface{ event() }

type (
	Opened          struct{}
	TransportClosed struct{}
	DialFailed      struct{ Err error }
	HeartbeatTick   struct{}
	ReplyReceived   struct{}
	SendRequested   struct{ Payload []byte }
	RetryDue        struct{}
	CloseRequested  struct{}
)

// WriteFailed reports payloads that never reached the transport, oldest
// first. The transport is unusable afterwards.
type WriteFailed struct{ Unsent [][]byte }

func (Opened) event()          {}
func (TransportClosed) event() {}
func (DialFailed) event()      {}
func (HeartbeatTick) event()   {}
func (ReplyReceived) event()   {}
func (SendRequested) event()   {}
func (RetryDue) event()        {}
func (CloseRequested) event()  {}
func (WriteFailed) event()     {}

// Action is an effect the runtime must perform, in order.
type Action interface{ action() }

type (
	Dial           struct{}
	Transmit       struct{ Payload []byte }
	SendHeartbeat  struct{}
	StartHeartbeat struct{}
	StopHeartbeat  struct{}
	CloseTransport struct{}
	Fail           struct{ Err error }
)

// ScheduleReconnect asks for a RetryDue event after Delay.
type ScheduleReconnect struct {
	Delay   time.Duration
	Attempt int
}

func (Dial) action()              {}
func (Transmit) action()          {}
func (SendHeartbeat) action()     {}
func (StartHeartbeat) action()    {}
func (StopHeartbeat) action()     {}
func (CloseTransport) action()    {}
func (ScheduleReconnect) action() {}
func (Fail) action()              {}

const (
	DefaultMaxQueued = 256
	DefaultRetryBase = time.Second
	DefaultRetryMax  = 30 * time.Second

	// maxMissed is how many unanswered heartbeats are tolerated.
	maxMissed = 3
)

type MachineConfig struct {
	MaxQueued   int
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxAttempts int // 0 means unbounded
}

// Machine is the pure connection state machine. It is not safe for
// concurrent use.
type Machine struct {
	cfg      MachineConfig
	state    State
	queue    [][]byte
	dropped  int
	missed   int
	attempts int
	backoff  *backoff.ExponentialBackOff
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryBase > cfg.RetryMax {
		cfg.RetryBase = cfg.RetryMax
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.RetryBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.RetryMax,
	}
	b.Reset()
	return &Machine{cfg: cfg, state: StateConnecting, backoff: b}
}

func (m *Machine) State() State { return m.state }

// Queued returns how many messages wait for the next open.
func (m *Machine) Queued() int { return len(m.queue) }

// Dropped counts messages discarded because the queue was full.
func (m *Machine) Dropped() int { return m.dropped }

func (m *Machine) Missed() int { return m.missed }

// Start returns the actions for the initial connection attempt.
func (m *Machine) Start() []Action {
	if m.state != StateConnecting {
		return nil
	}
	return []Action{Dial{}}
}

func (m *Machine) Handle(ev Event) []Action {
	switch e := ev.(type) {
	case Opened:
		return m.onOpened()
	case TransportClosed:
		if m.state != StateOpen {
			return nil
		}
		return append([]Action{StopHeartbeat{}}, m.reconnect()...)
	case DialFailed:
		if m.state != StateConnecting && m.state != StateReconnecting {
			return nil
		}
		return m.reconnect()
	case HeartbeatTick:
		return m.onHeartbeat()
	case ReplyReceived:
		if m.state == StateOpen {
			m.missed = 0
		}
		return nil
	case SendRequested:
		return m.onSend(e.Payload)
	case RetryDue:
		if m.state != StateReconnecting {
			return nil
		}
		return []Action{Dial{}}
	case CloseRequested:
		return m.onClose()
	case WriteFailed:
		return m.onWriteFailed(e.Unsent)
	}
	return nil
}

func (m *Machine) onOpened() []Action {
	switch m.state {
	case StateClosed:
		// Dial finished after Close.
		return []Action{CloseTransport{}}
	case StateOpen:
		return nil
	}
	m.state = StateOpen
	m.missed = 0
	m.attempts = 0
	m.backoff.Reset()

	actions := make([]Action, 0, len(m.queue)+1)
	actions = append(actions, StartHeartbeat{})
	for _, p := range m.queue {
		actions = append(actions, Transmit{Payload: p})
	}
	m.queue = nil
	return actions
}

func (m *Machine) onHeartbeat() []Action {
	if m.state != StateOpen {
		return nil
	}
	if m.missed > maxMissed {
		actions := []Action{StopHeartbeat{}, CloseTransport{}}
		return append(actions, m.reconnect()...)
	}
	m.missed++
	return []Action{SendHeartbeat{}}
}

func (m *Machine) onSend(p []byte) []Action {
	switch m.state {
	case StateOpen:
		return []Action{Transmit{Payload: p}}
	case StateClosed:
		return nil
	}
	m.enqueue(p)
	return nil
}

func (m *Machine) enqueue(p []byte) {
	if len(m.queue) >= m.cfg.MaxQueued {
		m.queue = m.queue[1:]
		m.dropped++
	}
	m.queue = append(m.queue, p)
}

// onWriteFailed puts unsent payloads back in the queue and reconnects.
func (m *Machine) onWriteFailed(unsent [][]byte) []Action {
	if m.state == StateClosed {
		return nil
	}
	for _, p := range unsent {
		m.enqueue(p)
	}
	if m.state != StateOpen {
		return nil
	}
	actions := []Action{StopHeartbeat{}, CloseTransport{}}
	return append(actions, m.reconnect()...)
}

func (m *Machine) onClose() []Action {
	prev := m.state
	m.state = StateClosed
	m.queue = nil
	if prev == StateOpen {
		return []Action{StopHeartbeat{}, CloseTransport{}}
	}
	return nil
}

func (m *Machine) reconnect() []Action {
	if m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts {
		m.state = StateClosed
		m.queue = nil
		return []Action{Fail{Err: ErrRetriesExhausted}}
	}
	delay := m.backoff.NextBackOff()
	m.attempts++
	m.state = StateReconnecting
	return []Action{ScheduleReconnect{Delay: delay, Attempt: m.attempts}}
}
