// Package redisbroker implements broker.Broker on Redis. Each session's
// outbox is a list of msgpack-encoded envelopes; publishing also announces on
// a per-session pub/sub channel so that the stream holding the session wakes
// up and drains.
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ggoodman/salon-mcp/broker"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Broker is a Redis implementation of broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// Config contains configuration options for the Redis broker.
type Config struct {
	// KeyPrefix is prepended to all Redis keys used by the broker.
	// Defaults to "salon-mcp:outbox:" if empty.
	KeyPrefix string
	// TTL bounds how long an undrained outbox survives. Defaults to one hour,
	// matching the session TTL.
	TTL time.Duration
}

// New creates a Broker on an existing client. The caller owns the client.
func New(client redis.UniversalClient, cfg Config) *Broker {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "salon-mcp:outbox:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Broker{client: client, keyPrefix: prefix, ttl: ttl}
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) listKey(sessionID string) string { return b.keyPrefix + "list:" + sessionID }
func (b *Broker) seqKey(sessionID string) string  { return b.keyPrefix + "seq:" + sessionID }
func (b *Broker) channel(sessionID string) string { return b.keyPrefix + "wake:" + sessionID }

func (b *Broker) Publish(ctx context.Context, sessionID string, data []byte) error {
	seq, err := b.client.Incr(ctx, b.seqKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}

	enc, err := msgpack.Marshal(broker.Envelope{ID: strconv.FormatInt(seq, 10), Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.listKey(sessionID), enc)
		pipe.Expire(ctx, b.listKey(sessionID), b.ttl)
		pipe.Expire(ctx, b.seqKey(sessionID), b.ttl)
		pipe.Publish(ctx, b.channel(sessionID), seq)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *Broker) Drain(ctx context.Context, sessionID string) ([]broker.Envelope, error) {
	var lr *redis.StringSliceCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, b.listKey(sessionID), 0, -1)
		pipe.Del(ctx, b.listKey(sessionID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis drain: %w", err)
	}

	raw, err := lr.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]broker.Envelope, 0, len(raw))
	for _, s := range raw {
		var env broker.Envelope
		if err := msgpack.Unmarshal([]byte(s), &env); err != nil {
			return out, fmt.Errorf("decode envelope: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) (broker.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(sessionID))
	// Wait for the subscription confirmation so no publish is missed between
	// Subscribe returning and the caller's first Drain.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &subscription{ps: ps, ready: make(chan struct{}, 1), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

func (b *Broker) Cleanup(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, b.listKey(sessionID), b.seqKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type subscription struct {
	ps        *redis.PubSub
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) pump() {
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.ready <- struct{}{}:
			default:
			}
		}
	}
}

func (s *subscription) Ready() <-chan struct{} { return s.ready }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
