// Package streaminghttp implements the MCP streamable HTTP transport on a
// single route (default "/mcp"). It mounts as a standard net/http handler.
//
// Methods
//   - POST carries one JSON-RPC message. Requests are answered either as a
//     plain JSON body or, when the client lists text/event-stream first in
//     its Accept header, as a single SSE "message" event. Notifications and
//     responses are acknowledged with 202.
//   - GET opens a long-lived SSE stream. With a Mcp-Session-Id header the
//     stream is session-scoped and delivers queued server messages from the
//     session's outbox; without one it only carries heartbeats.
//   - DELETE terminates a session and discards its outbox.
//   - HEAD and OPTIONS describe the endpoint for discovery and CORS.
//
// Sessions are created by initialize and referenced afterwards through the
// Mcp-Session-Id header. Every non-initialize POST extends the session's
// sliding TTL.
//
// # Error Handling
//
// Transport rejections are written as {"error":{"code":<status>,"message":...}}
// with the matching HTTP status. Once an SSE stream has started, errors and
// panics are reported in-band as a final "error" event carrying a JSON-RPC
// internal error with a null id.
//
// Example:
//
//	h, err := streaminghttp.New(store, eng,
//	    streaminghttp.WithBroker(outbox),
//	    streaminghttp.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(":8080", h)
package streaminghttp
