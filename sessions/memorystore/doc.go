// Package memorystore provides an in-process implementation of
// sessions.Store. Records live in a map guarded by a mutex; expiry is checked
// on every read and a janitor goroutine sweeps expired records periodically.
// It is suitable for a single server process.
package memorystore
