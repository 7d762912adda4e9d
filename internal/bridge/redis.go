package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/DuelRelay/internal/config"
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisClient defines the subset of go-redis the bridge needs.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

type Options struct {
	InstanceID  string
	KeyPrefix   string
	Channel     string
	TTL         time.Duration
	WriteBuffer int
	WriteTime   time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration
	HealthEvery time.Duration
}

func (o *Options) applyDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "duel"
	}
	if o.Channel == "" {
		o.Channel = o.KeyPrefix + ":broadcast"
	}
	if o.TTL <= 0 {
		o.TTL = time.Minute
	}
	if o.WriteBuffer <= 0 {
		o.WriteBuffer = 256
	}
	if o.WriteTime <= 0 {
		o.WriteTime = 2 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	if o.HealthEvery <= 0 {
		o.HealthEvery = 5 * time.Second
	}
}

type writeJob struct {
	op  string
	key string
	run func(ctx context.Context, c redisClient) error
}

// Redis replicates snapshots into per-instance hash fields and relays room
// events over pub/sub. Writes are queued and performed by a single writer
// goroutine; while the store is not ready they are dropped.
type Redis struct {
	client redisClient
	opts   Options

	state  atomic.Value // core.BridgeState
	jobs   chan writeJob
	failed chan struct{}

	mu      sync.RWMutex
	handler func(core.RemoteEvent)
}

func NewRedis(client redisClient, opts Options) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if opts.InstanceID == "" {
		return nil, errors.New("instance id cannot be empty")
	}
	opts.applyDefaults()
	r := &Redis{
		client: client,
		opts:   opts,
		jobs:   make(chan writeJob, opts.WriteBuffer),
		failed: make(chan struct{}, 1),
	}
	r.state.Store(core.BridgeConnecting)
	return r, nil
}

// NewFromConfig builds a go-redis client and the bridge on top of it.
func NewFromConfig(cfg config.RedisConfig, instanceID string) (*Redis, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	b, err := NewRedis(client, Options{
		InstanceID:  instanceID,
		KeyPrefix:   cfg.KeyPrefix,
		Channel:     cfg.Channel,
		TTL:         cfg.TTL,
		WriteBuffer: cfg.WriteBuffer,
		RetryBase:   cfg.RetryBase,
		RetryMax:    cfg.RetryMax,
		HealthEvery: cfg.HealthEvery,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return b, client, nil
}

func (r *Redis) InstanceID() string { return r.opts.InstanceID }

func (r *Redis) State() core.BridgeState {
	return r.state.Load().(core.BridgeState)
}

func (r *Redis) setState(s core.BridgeState) {
	if prev := r.state.Swap(s); prev != s {
		log.Info().Str("module", "bridge").Str("from", string(prev.(core.BridgeState))).Str("to", string(s)).Msg("bridge state changed")
	}
}

func (r *Redis) OnEvent(fn func(core.RemoteEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

func (r *Redis) queueKey(cat domain.Category) string {
	return fmt.Sprintf("%s:queue:%s", r.opts.KeyPrefix, cat)
}

func (r *Redis) roomKey(id domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s", r.opts.KeyPrefix, id)
}

// qualify makes a connection id unique across instances.
func (r *Redis) qualify(id domain.ConnID) string {
	return r.opts.InstanceID + "/" + string(id)
}

func (r *Redis) PublishQueue(cat domain.Category, entries []core.QueueEntry) {
	key := r.queueKey(cat)
	if len(entries) == 0 {
		r.enqueue(writeJob{op: "queue_clear", key: key, run: r.hdel(key)})
		return
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("marshal queue snapshot")
		return
	}
	r.enqueue(writeJob{op: "queue_snapshot", key: key, run: r.hsetWithTTL(key, payload)})
}

func (r *Redis) PublishRoom(id domain.RoomID, members []domain.ConnID) {
	key := r.roomKey(id)
	qualified := make([]string, 0, len(members))
	for _, m := range members {
		qualified = append(qualified, r.qualify(m))
	}
	payload, err := json.Marshal(qualified)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("marshal room snapshot")
		return
	}
	r.enqueue(writeJob{op: "room_snapshot", key: key, run: r.hsetWithTTL(key, payload)})
}

func (r *Redis) DeleteRoom(id domain.RoomID) {
	key := r.roomKey(id)
	r.enqueue(writeJob{op: "room_delete", key: key, run: r.hdel(key)})
}

func (r *Redis) PublishEvent(ev core.RemoteEvent) {
	if ev.Instance == "" {
		ev.Instance = r.opts.InstanceID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("marshal remote event")
		return
	}
	channel := r.opts.Channel
	r.enqueue(writeJob{op: "publish", key: channel, run: func(ctx context.Context, c redisClient) error {
		return c.Publish(ctx, channel, payload).Err()
	}})
}

func (r *Redis) hsetWithTTL(key string, payload []byte) func(context.Context, redisClient) error {
	field, ttl := r.opts.InstanceID, r.opts.TTL
	return func(ctx context.Context, c redisClient) error {
		_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, field, payload)
			p.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}
}

func (r *Redis) hdel(key string) func(context.Context, redisClient) error {
	field := r.opts.InstanceID
	return func(ctx context.Context, c redisClient) error {
		return c.HDel(ctx, key, field).Err()
	}
}

// enqueue never blocks. Writes are dropped while the bridge is not ready or
// when the writer is behind.
func (r *Redis) enqueue(job writeJob) {
	if r.State() != core.BridgeReady {
		log.Debug().Str("module", "bridge").Str("op", job.op).Str("key", job.key).Msg("bridge not ready, write dropped")
		return
	}
	select {
	case r.jobs <- job:
	default:
		log.Warn().Str("module", "bridge").Str("op", job.op).Str("key", job.key).Msg("write buffer full, write dropped")
	}
}

// Run keeps the subscription alive until ctx is done, reconnecting with
// exponential backoff. Broadcasts published while disconnected are lost.
func (r *Redis) Run(ctx context.Context) {
	go r.writer(ctx)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.opts.RetryBase,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         r.opts.RetryMax,
	}
	b.Reset()

	for {
		wasReady, err := r.session(ctx)
		r.setState(core.BridgeConnecting)
		if ctx.Err() != nil {
			log.Info().Str("module", "bridge").Msg("bridge stopped")
			return
		}
		if wasReady {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Warn().Err(err).Str("module", "bridge").Dur("retry_in", wait).Msg("shared store unavailable, running standalone")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info().Str("module", "bridge").Msg("bridge stopped")
			return
		case <-t.C:
		}
	}
}

func (r *Redis) session(ctx context.Context) (bool, error) {
	pingCtx, cancel := context.WithTimeout(ctx, r.opts.WriteTime)
	err := r.client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return false, fmt.Errorf("ping: %w", err)
	}

	sub := r.client.Subscribe(ctx, r.opts.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	r.setState(core.BridgeReady)
	log.Info().Str("module", "bridge").Str("channel", r.opts.Channel).Str("instance", r.opts.InstanceID).Msg("bridge ready")

	// An open subscriber socket alone does not mean the store accepts writes.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhealthy := make(chan error, 1)
	go func() {
		if err := r.watchHealth(sessCtx); err != nil {
			unhealthy <- err
			_ = sub.Close()
		}
	}()

	for {
		msg, err := sub.ReceiveMessage(sessCtx)
		if err != nil {
			select {
			case herr := <-unhealthy:
				return true, fmt.Errorf("health: %w", herr)
			default:
			}
			return true, fmt.Errorf("receive: %w", err)
		}
		r.dispatch(msg.Payload)
	}
}

// watchHealth pings the store every HealthEvery and right after a failed
// write. It returns the first ping error, or nil once ctx is done.
func (r *Redis) watchHealth(ctx context.Context) error {
	// Drop a failure left over from the previous session.
	select {
	case <-r.failed:
	default:
	}

	t := time.NewTicker(r.opts.HealthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-r.failed:
		}
		pingCtx, cancel := context.WithTimeout(ctx, r.opts.WriteTime)
		err := r.client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Redis) dispatch(payload string) {
	var ev core.RemoteEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Warn().Err(err).Str("module", "bridge").Msg("bad remote event")
		return
	}
	if ev.Instance == r.opts.InstanceID {
		return
	}
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (r *Redis) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			if r.State() != core.BridgeReady {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, r.opts.WriteTime)
			if err := job.run(wctx, r.client); err != nil {
				log.Warn().Err(err).Str("module", "bridge").Str("op", job.op).Str("key", job.key).Msg("shared store write failed")
				select {
				case r.failed <- struct{}{}:
				default:
				}
			}
			cancel()
		}
	}
}
