// Package sessions defines the session abstraction used by the streaming
// HTTP transport. A session represents one MCP client's logical connection
// across many HTTP calls: it is created (or adopted) by initialize, refreshed
// by every later request and removed either explicitly with DELETE or
// implicitly when its TTL lapses.
//
// Layers & Roles
//
//	Transport -> resolves the Mcp-Session-Id header, creates/initializes/extends
//	Store     -> keyed ephemeral records with a sliding TTL
//
// # Store Interface
//
// Store is deliberately small: Create, Adopt, Exists, Get, Update, Extend and
// Terminate. Every write resets the TTL. Update merges a Patch into the
// existing record and never creates one. Operations that need an existing
// record report ErrSessionNotFound when it is absent or expired.
//
// Implementations
//
//	memorystore : in-process map with a janitor goroutine (default)
//	redisstore  : Redis keys with native expiry, msgpack-encoded records
//
// Both are exercised by the shared conformance suite in storetest.
package sessions
