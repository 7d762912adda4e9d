package resilient

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Message is one decoded inbound payload.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Callbacks run on the channel's event loop. They may call Send and Close.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func()
	OnFailure func(error)
}

type Options struct {
	Dialer            Dialer
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
	MaxAttempts       int
	MaxQueued         int
}

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

var heartbeatPayload = []byte(`{"type":"ping"}`)

// loop-internal inputs, tagged with the dial generation they belong to.
type (
	dialResult struct {
		gen  uint64
		conn Conn
		err  error
	}
	readResult struct {
		gen  uint64
		data []byte
		err  error
	}
)

type Channel struct {
	url  string
	opts Options
	cb   Callbacks

	machine *Machine
	state   atomic.Int32

	dials chan dialResult
	reads chan readResult

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}

	// owned by the loop goroutine
	conn        Conn
	gen         uint64
	hb          *time.Ticker
	retry       *time.Timer
	writeFailed bool
	unsent      [][]byte
}

// Open starts connecting in the background and returns immediately.
// Cancelling ctx is equivalent to Close.
func Open(ctx context.Context, url string, cb Callbacks, opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	c := &Channel{
		url:  url,
		opts: opts,
		cb:   cb,
		machine: NewMachine(MachineConfig{
			MaxQueued:   opts.MaxQueued,
			RetryBase:   opts.RetryBase,
			RetryMax:    opts.RetryMax,
			MaxAttempts: opts.MaxAttempts,
		}),
		dials:   make(chan dialResult),
		reads:   make(chan readResult),
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	go c.loop(ctx)
	return c
}

func (c *Channel) State() State { return State(c.state.Load()) }

// Done is closed once the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send transmits v as JSON, or queues it until the next open.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *Channel) SendRaw(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.pending = append(c.pending, data)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the channel and disables reconnection. It does not wait for
// the loop; use Done for that.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

func (c *Channel) loop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.stopHeartbeat()
		c.stopRetry()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.done)
	}()

	c.apply(ctx, c.machine.Start())

	for c.machine.State() != StateClosed {
		var hb, retry <-chan time.Time
		if c.hb != nil {
			hb = c.hb.C
		}
		if c.retry != nil {
			retry = c.retry.C
		}

		select {
		case <-ctx.Done():
			c.handle(ctx, CloseRequested{})
		case <-c.closeCh:
			c.handle(ctx, CloseRequested{})
		case <-c.wake:
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			c.mu.Unlock()
			for _, p := range batch {
				c.handle(ctx, SendRequested{Payload: p})
			}
		case r := <-c.dials:
			c.onDial(ctx, r)
		case r := <-c.reads:
			c.onRead(ctx, r)
		case <-hb:
			c.handle(ctx, HeartbeatTick{})
		case <-retry:
			c.retry = nil
			c.handle(ctx, RetryDue{})
		}
	}
}

func (c *Channel) onDial(ctx context.Context, r dialResult) {
	if r.gen != c.gen {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}
	if r.err != nil {
		log.Warn().Err(r.err).Str("module", "resilient").Str("url", c.url).Msg("dial failed")
		c.handle(ctx, DialFailed{Err: r.err})
		return
	}
	c.conn = r.conn
	go c.readLoop(r.gen, r.conn)
	c.handle(ctx, Opened{})
}

func (c *Channel) onRead(ctx context.Context, r readResult) {
	if r.gen != c.gen {
		return
	}
	if r.err != nil {
		log.Info().Err(r.err).Str("module", "resilient").Msg("transport closed")
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.handle(ctx, TransportClosed{})
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(r.data, &head); err != nil {
		log.Debug().Err(err).Str("module", "resilient").Msg("ignoring malformed message")
		return
	}
	if head.Type == "pong" {
		c.handle(ctx, ReplyReceived{})
		return
	}
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(Message{Type: head.Type, Raw: json.RawMessage(r.data)})
	}
}

func (c *Channel) handle(ctx context.Context, ev Event) {
	before := c.machine.State()
	c.apply(ctx, c.machine.Handle(ev))
	if c.writeFailed {
		unsent := c.unsent
		c.writeFailed, c.unsent = false, nil
		c.apply(ctx, c.machine.Handle(WriteFailed{Unsent: unsent}))
	}
	after := c.machine.State()
	c.state.Store(int32(after))

	if before == after {
		return
	}
	log.Debug().Str("module", "resilient").Stringer("from", before).Stringer("to", after).Msg("state change")
	if after == StateOpen && c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	if before == StateOpen && c.cb.OnClose != nil {
		c.cb.OnClose()
	}
}

func (c *Channel) apply(ctx context.Context, actions []Action) {
	for _, a := range actions {
		switch a := a.(type) {
		case Dial:
			c.dial(ctx)
		case Transmit:
			c.write(a.Payload, true)
		case SendHeartbeat:
			c.write(heartbeatPayload, false)
		case StartHeartbeat:
			c.stopHeartbeat()
			c.hb = time.NewTicker(c.opts.HeartbeatInterval)
		case StopHeartbeat:
			c.stopHeartbeat()
		case CloseTransport:
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			// Reads from the old connection are stale from here on.
			c.gen++
		case ScheduleReconnect:
			log.Info().Str("module", "resilient").Int("attempt", a.Attempt).Dur("delay", a.Delay).Msg("reconnect scheduled")
			c.stopRetry()
			c.retry = time.NewTimer(a.Delay)
		case Fail:
			log.Error().Err(a.Err).Str("module", "resilient").Str("url", c.url).Msg("channel failed")
			if c.cb.OnFailure != nil {
				c.cb.OnFailure(a.Err)
			}
		}
	}
}

func (c *Channel) dial(ctx context.Context) {
	c.gen++
	gen := c.gen
	go func() {
		dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
		conn, err := c.opts.Dialer.Dial(dctx, c.url)
		select {
		case c.dials <- dialResult{gen: gen, conn: conn, err: err}:
		case <-c.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		select {
		case c.reads <- readResult{gen: gen, data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// write sends p on the current transport. After a failure the transport is
// dropped and p, plus every later payload of the same batch, is kept for
// the machine to re-queue. Heartbeats are not kept.
func (c *Channel) write(p []byte, keep bool) {
	if c.conn != nil {
		err := c.conn.WriteMessage(p)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("module", "resilient").Msg("write failed")
		_ = c.conn.Close()
		c.conn = nil
		c.writeFailed = true
	}
	if keep && c.writeFailed {
		c.unsent = append(c.unsent, p)
	}
}

func (c *Channel) stopHeartbeat() {
	if c.hb != nil {
		c.hb.Stop()
		c.hb = nil
	}
}

func (c *Channel) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
