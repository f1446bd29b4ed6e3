package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/salon-mcp/sessions"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of sessions.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]record
	// retired holds every id that was terminated or expired; Create never
	// issues them again.
	retired map[string]struct{}
	// expired collects ids dropped under mu until unlock hands them to onExpire.
	expired []string

	ttl      time.Duration
	now      func() time.Time
	newID    func() string
	onExpire func(id string)

	stop     chan struct{}
	stopOnce sync.Once
}

type record struct {
	session   sessions.Session
	expiresAt time.Time
}

type config struct {
	ttl            time.Duration
	now            func() time.Time
	janitorEvery   time.Duration
	disableJanitor bool
	onExpire       func(id string)
}

// Option configures a Store.
type Option func(*config)

// WithTTL overrides the sliding expiry (default sessions.DefaultTTL).
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithClock substitutes the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithJanitorInterval sets how often expired records are swept. A zero or
// negative interval disables the janitor; expiry is still enforced on read.
func WithJanitorInterval(d time.Duration) Option {
	return func(c *config) {
		c.janitorEvery = d
		c.disableJanitor = d <= 0
	}
}

// WithExpiryHook registers fn to run, outside the store's lock, for every
// session dropped because its TTL elapsed. Terminate does not call it.
func WithExpiryHook(fn func(id string)) Option {
	return func(c *config) { c.onExpire = fn }
}

// New creates a Store and starts its janitor. Call Close to stop it.
func New(opts ...Option) *Store {
	cfg := config{
		ttl:          sessions.DefaultTTL,
		now:          time.Now,
		janitorEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		records:  make(map[string]record),
		retired:  make(map[string]struct{}),
		ttl:      cfg.ttl,
		now:      cfg.now,
		newID:    func() string { return uuid.NewString() },
		onExpire: cfg.onExpire,
		stop:     make(chan struct{}),
	}
	if !cfg.disableJanitor {
		go s.janitor(cfg.janitorEvery)
	}
	return s
}

var _ sessions.Store = (*Store)(nil)

func (s *Store) Create(_ context.Context) (sessions.Session, error) {
	s.mu.Lock()
	defer s.unlock()

	id := s.newID()
	for s.taken(id) {
		id = s.newID()
	}
	sess := sessions.Session{ID: id, CreatedAt: s.now()}
	s.put(sess)
	return sess, nil
}

func (s *Store) Adopt(_ context.Context, id string) (sessions.Session, error) {
	if id == "" {
		return sessions.Session{}, sessions.ErrInvalidSessionID
	}
	s.mu.Lock()
	defer s.unlock()

	if rec, ok := s.live(id); ok {
		return rec.session, nil
	}
	sess := sessions.Session{ID: id, CreatedAt: s.now()}
	s.put(sess)
	return sess, nil
}

func (s *Store) Exists(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.unlock()
	_, ok := s.live(id)
	return ok
}

func (s *Store) Get(_ context.Context, id string) (sessions.Session, error) {
	s.mu.Lock()
	defer s.unlock()
	rec, ok := s.live(id)
	if !ok {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	return rec.session, nil
}

func (s *Store) Update(_ context.Context, id string, patch sessions.Patch) (sessions.Session, error) {
	s.mu.Lock()
	defer s.unlock()
	rec, ok := s.live(id)
	if !ok {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	sess := patch.Apply(rec.session)
	s.put(sess)
	return sess, nil
}

func (s *Store) Extend(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.unlock()
	rec, ok := s.live(id)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	s.put(rec.session)
	return nil
}

func (s *Store) Terminate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.unlock()
	if _, ok := s.live(id); !ok {
		return sessions.ErrSessionNotFound
	}
	s.remove(id)
	return nil
}

// taken reports whether id is held by a record or was retired. Callers hold
// s.mu.
func (s *Store) taken(id string) bool {
	if _, ok := s.records[id]; ok {
		return true
	}
	_, ok := s.retired[id]
	return ok
}

// Len returns the number of records held, including expired records the
// janitor has not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.unlock()
	return len(s.records)
}

// Close stops the janitor. The store remains usable.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// live returns the record for id if present and unexpired, dropping it
// otherwise. Callers hold s.mu.
func (s *Store) live(id string) (record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return record{}, false
	}
	if !s.now().Before(rec.expiresAt) {
		s.expire(id)
		return record{}, false
	}
	return rec, true
}

func (s *Store) put(sess sessions.Session) {
	s.records[sess.ID] = record{session: sess, expiresAt: s.now().Add(s.ttl)}
}

func (s *Store) remove(id string) {
	delete(s.records, id)
	s.retired[id] = struct{}{}
}

// expire removes id and queues it for the expiry hook. Callers hold s.mu.
func (s *Store) expire(id string) {
	s.remove(id)
	if s.onExpire != nil {
		s.expired = append(s.expired, id)
	}
}

// unlock releases s.mu and then runs the expiry hook for ids dropped while it
// was held.
func (s *Store) unlock() {
	expired := s.expired
	s.expired = nil
	s.mu.Unlock()
	for _, id := range expired {
		s.onExpire(id)
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.unlock()
	now := s.now()
	for id, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			s.expire(id)
		}
	}
}

func (s *Store) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.sweep()
		}
	}
}
