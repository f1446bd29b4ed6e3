package sessions

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the sliding expiry applied to session records.
const DefaultTTL = time.Hour

var (
	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned for empty session ids.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Session is the persisted record for one MCP client connection.
type Session struct {
	ID              string    `json:"id" msgpack:"id"`
	CreatedAt       time.Time `json:"created_at" msgpack:"created_at"`
	Initialized     bool      `json:"initialized" msgpack:"initialized"`
	ProtocolVersion string    `json:"protocol_version,omitempty" msgpack:"protocol_version"`
	InitializedAt   time.Time `json:"initialized_at,omitzero" msgpack:"initialized_at"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Initialized     *bool
	ProtocolVersion *string
	InitializedAt   *time.Time
}

// Apply merges p into s and returns the result.
func (p Patch) Apply(s Session) Session {
	if p.Initialized != nil {
		s.Initialized = *p.Initialized
	}
	if p.ProtocolVersion != nil {
		s.ProtocolVersion = *p.ProtocolVersion
	}
	if p.InitializedAt != nil {
		s.InitializedAt = *p.InitializedAt
	}
	return s
}

// Store persists sessions with a sliding TTL. Implementations must be safe for
// concurrent use; writes to the same id are serialized per key and the last
// writer wins on overlapping fields.
type Store interface {
	// Create writes a fresh session with a newly generated id.
	Create(ctx context.Context) (Session, error)
	// Adopt returns the session stored under a client-supplied id, creating
	// it first when absent.
	Adopt(ctx context.Context, id string) (Session, error)
	// Exists reports whether id names a live session. Empty ids never exist.
	Exists(ctx context.Context, id string) bool
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (Session, error)
	// Update merges patch into an existing session and resets its TTL. It
	// returns ErrSessionNotFound rather than creating the session.
	Update(ctx context.Context, id string, patch Patch) (Session, error)
	// Extend resets the TTL without changing the record.
	Extend(ctx context.Context, id string) error
	// Terminate deletes the session. It returns ErrSessionNotFound if the
	// session did not exist.
	Terminate(ctx context.Context, id string) error
}

// InitializeSession marks id as initialized with the negotiated protocol
// version.
func InitializeSession(ctx context.Context, store Store, id, protocolVersion string, now time.Time) (Session, error) {
	initialized := true
	return store.Update(ctx, id, Patch{
		Initialized:     &initialized,
		ProtocolVersion: &protocolVersion,
		InitializedAt:   &now,
	})
}
