// Package duelclient is a small relay client used for manual and smoke
// testing. It queues or joins, prints every relay message and can play a
// trivial duel.
package duelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dkeye/DuelRelay/pkg/resilient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type Config struct {
	URL         string
	Category    string
	Stake       float64
	Room        string
	Spectator   bool
	AutoJoin    bool
	Hello       string
	Duration    time.Duration
	Heartbeat   time.Duration
	MaxAttempts int
}

// ParseConfig reads flags from args into a Config.
func ParseConfig(fs *pflag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.URL, "url", "ws://localhost:8080/ws", "relay websocket url")
	fs.StringVarP(&cfg.Category, "category", "c", "", "queue in this category")
	fs.Float64Var(&cfg.Stake, "stake", 0, "stake to queue with")
	fs.StringVarP(&cfg.Room, "room", "r", "", "join this room directly instead of queueing")
	fs.BoolVar(&cfg.Spectator, "spectator", false, "join the room as a spectator")
	fs.BoolVar(&cfg.AutoJoin, "auto-join", true, "join the duel room after a match")
	fs.StringVar(&cfg.Hello, "hello", "", "event type to broadcast after joining a room")
	fs.DurationVar(&cfg.Duration, "duration", 0, "exit after this long (0 runs until interrupted)")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", resilient.DefaultHeartbeatInterval, "heartbeat interval")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", 0, "give up after this many reconnects (0 retries forever)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Category == "" && cfg.Room == "" {
		return Config{}, errors.New("one of --category or --room is required")
	}
	if cfg.Category != "" && cfg.Room != "" {
		return Config{}, errors.New("--category and --room are mutually exclusive")
	}
	if cfg.Stake < 0 {
		return Config{}, fmt.Errorf("stake must not be negative, got %v", cfg.Stake)
	}
	return cfg, nil
}

type client struct {
	cfg Config
	out io.Writer
	ch  *resilient.Channel

	mu   sync.Mutex
	room string
}

// Run connects and blocks until ctx ends, Duration passes or the channel
// gives up.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	c := &client{cfg: cfg, out: out, room: cfg.Room}
	failed := make(chan error, 1)
	c.ch = resilient.Open(ctx, cfg.URL, resilient.Callbacks{
		OnOpen:    c.onOpen,
		OnMessage: c.onMessage,
		OnClose: func() {
			log.Warn().Str("module", "duelclient").Msg("connection lost, reconnecting")
		},
		OnFailure: func(err error) { failed <- err },
	}, resilient.Options{
		HeartbeatInterval: cfg.Heartbeat,
		MaxAttempts:       cfg.MaxAttempts,
	})

	select {
	case <-ctx.Done():
	case err := <-failed:
		<-c.ch.Done()
		return err
	}
	c.ch.Close()
	<-c.ch.Done()
	return nil
}

// onOpen restates the client's intent; the relay forgets queue and room
// membership when a connection drops.
func (c *client) onOpen() {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()

	log.Info().Str("module", "duelclient").Str("url", c.cfg.URL).Msg("connected")
	if room != "" {
		c.send(map[string]any{"type": "join", "roomId": room, "spectator": c.cfg.Spectator})
		return
	}
	c.send(map[string]any{"type": "queue", "category": c.cfg.Category, "stake": c.cfg.Stake})
}

func (c *client) onMessage(m resilient.Message) {
	fmt.Fprintln(c.out, string(m.Raw))

	switch m.Type {
	case "match_found":
		var found struct {
			Role   string `json:"role"`
			DuelID string `json:"duelId"`
		}
		if err := json.Unmarshal(m.Raw, &found); err != nil || found.DuelID == "" {
			return
		}
		log.Info().Str("module", "duelclient").Str("role", found.Role).Str("duel", found.DuelID).Msg("match found")
		if !c.cfg.AutoJoin {
			return
		}
		c.mu.Lock()
		c.room = found.DuelID
		c.mu.Unlock()
		c.send(map[string]any{"type": "join", "roomId": found.DuelID})
	case "joined":
		if c.cfg.Hello != "" {
			c.send(map[string]any{"type": "broadcast", "event": map[string]any{"type": c.cfg.Hello}})
		}
	case "error":
		log.Warn().Str("module", "duelclient").RawJSON("msg", m.Raw).Msg("relay error")
	}
}

func (c *client) send(v any) {
	if err := c.ch.Send(v); err != nil {
		log.Warn().Err(err).Str("module", "duelclient").Msg("send failed")
	}
}
