package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/salon-mcp/sessions"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Config for a Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=salon-mcp:sessions:"`
	// TTL is the sliding expiry. ENV: SESSION_TTL
	TTL time.Duration `env:"SESSION_TTL,default=1h"`
}

const maxTxRetries = 16

// Store is a Redis implementation of sessions.Store.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
	ownClient bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the prefix applied to every key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL overrides the sliding expiry (default sessions.DefaultTTL).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New builds a Store on an existing client. The caller owns the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "salon-mcp:sessions:",
		ttl:       sessions.DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to Redis using cfg and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	opts := []Option{}
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(cfg.KeyPrefix))
	}
	if cfg.TTL > 0 {
		opts = append(opts, WithTTL(cfg.TTL))
	}
	s := New(cl, opts...)
	s.ownClient = true
	return s, nil
}

// DialFromEnv builds a Store using envdecode to populate Config.
func DialFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return Dial(ctx, cfg)
}

// Close closes the Redis client if the Store created it.
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

var _ sessions.Store = (*Store)(nil)

func (s *Store) key(id string) string { return s.keyPrefix + id }

func (s *Store) Create(ctx context.Context) (sessions.Session, error) {
	for {
		sess := sessions.Session{ID: uuid.NewString(), CreatedAt: s.now()}
		created, err := s.setNX(ctx, sess)
		if err != nil {
			return sessions.Session{}, err
		}
		if created {
			return sess, nil
		}
	}
}

func (s *Store) Adopt(ctx context.Context, id string) (sessions.Session, error) {
	if id == "" {
		return sessions.Session{}, sessions.ErrInvalidSessionID
	}
	for i := 0; i < maxTxRetries; i++ {
		sess := sessions.Session{ID: id, CreatedAt: s.now()}
		created, err := s.setNX(ctx, sess)
		if err != nil {
			return sessions.Session{}, err
		}
		if created {
			return sess, nil
		}
		existing, err := s.Get(ctx, id)
		if errors.Is(err, sessions.ErrSessionNotFound) {
			// Expired or terminated between SETNX and GET.
			continue
		}
		return existing, err
	}
	return sessions.Session{}, fmt.Errorf("redis adopt %s: too much contention", id)
}

func (s *Store) Exists(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	return err == nil && n > 0
}

func (s *Store) Get(ctx context.Context, id string) (sessions.Session, error) {
	if id == "" {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	if err != nil {
		return sessions.Session{}, fmt.Errorf("redis get: %w", err)
	}
	return decode(b)
}

func (s *Store) Update(ctx context.Context, id string, patch sessions.Patch) (sessions.Session, error) {
	if id == "" {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	key := s.key(id)

	var out sessions.Session
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		cur, err := decode(b)
		if err != nil {
			return err
		}
		out = patch.Apply(cur)
		enc, err := msgpack.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return sessions.Session{}, err
		}
		return out, nil
	}
	return sessions.Session{}, fmt.Errorf("redis update %s: too much contention", id)
}

func (s *Store) Extend(ctx context.Context, id string) error {
	if id == "" {
		return sessions.ErrSessionNotFound
	}
	ok, err := s.client.Expire(ctx, s.key(id), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	if !ok {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (s *Store) Terminate(ctx context.Context, id string) error {
	if id == "" {
		return sessions.ErrSessionNotFound
	}
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (s *Store) setNX(ctx context.Context, sess sessions.Session) (bool, error) {
	enc, err := msgpack.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), enc, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func decode(b []byte) (sessions.Session, error) {
	var sess sessions.Session
	if err := msgpack.Unmarshal(b, &sess); err != nil {
		return sessions.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}
