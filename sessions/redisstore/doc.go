// Package redisstore implements sessions.Store on Redis. Each session is a
// single key holding a msgpack-encoded record; Redis key expiry provides the
// sliding TTL and every write re-applies it. Merges run under WATCH so that
// an update never resurrects a session deleted concurrently.
package redisstore
