// Package stdio serves MCP over a single newline-delimited JSON-RPC stream,
// normally the process's stdin and stdout. It is meant for assistants that
// launch the server as a subprocess.
//
// One Handler is one client and one implicit session. Requests run
// concurrently so that notifications/cancelled can reach a running tool call.
// Responses are written one per line in completion order. When a broker is
// configured, messages queued for the session (resource update notifications)
// are written after each response.
//
//	h, err := stdio.New(eng, stdio.WithBroker(outbox))
//	if err != nil {
//		return err
//	}
//	return h.Serve(ctx)
//
// Logs must not go to the writer; point the logger at stderr.
package stdio
