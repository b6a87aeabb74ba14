package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis pub/sub channel used for draft changes.
const DefaultChannel = "booking:changed"

// RedisBus fans changes out to local subscribers immediately and to every
// other instance through a Redis channel.  Messages that originate from this
// instance are not delivered twice.
type RedisBus struct {
	local   *LocalBus
	rdb     *redis.Client
	channel string
	source  string
	log     *zap.Logger
}

// NewRedisBus returns a RedisBus.  Call Run to start receiving remote
// changes.
func NewRedisBus(rdb *redis.Client, channel string, log *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{
		local:   NewLocalBus(),
		rdb:     rdb,
		channel: channel,
		source:  uuid.NewString(),
		log:     log,
	}
}

// Source is the instance id stamped on outgoing changes.
func (b *RedisBus) Source() string { return b.source }

func (b *RedisBus) Publish(ctx context.Context, ch Change) error {
	ch.Source = b.source
	if ch.At.IsZero() {
		ch.At = time.Now().UTC()
	}
	b.local.deliver(ch)

	body, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(profile string, fn func(Change)) func() {
	return b.local.Subscribe(profile, fn)
}

// Run consumes the Redis channel until ctx is cancelled.  The returned
// channel is closed once the subscription is established, which lets
// callers and tests wait for readiness.
func (b *RedisBus) Run(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		ps := b.rdb.Subscribe(ctx, b.channel)
		defer func() { _ = ps.Close() }()
		if _, err := ps.Receive(ctx); err != nil {
			b.log.Warn("changefeed: subscribe failed", zap.String("channel", b.channel), zap.Error(err))
			close(ready)
			return
		}
		close(ready)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				b.handle(m.Payload)
			}
		}
	}()
	return ready
}

func (b *RedisBus) handle(payload string) {
	var ch Change
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		b.log.Debug("changefeed: bad payload", zap.Error(err))
		return
	}
	if ch.Source == b.source || ch.Profile == "" {
		return
	}
	b.local.deliver(ch)
}
