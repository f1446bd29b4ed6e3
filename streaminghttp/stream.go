package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/salon-mcp/internal/logctx"
	"github.com/ggoodman/salon-mcp/sessions"
)

const (
	eventConnected = "connected"
	eventHeartbeat = "heartbeat"
	eventMessage   = "message"
	eventError     = "error"

	streamSessionScoped = "session-scoped"
	streamGeneric       = "generic"
)

// internalErrorEvent is the final event written when a stream fails after it
// has started.
var internalErrorEvent = []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal server error"},"id":null}`)

// streamWriteError marks a failed write to the peer. It ends a stream without
// being reported to the client.
type streamWriteError struct {
	err error
}

func (e *streamWriteError) Error() string { return "sse write: " + e.err.Error() }
func (e *streamWriteError) Unwrap() error { return e.err }

// writeSSEEvent frames one event and flushes it. Payloads must be single-line
// JSON; multi-line input is compacted first.
func writeSSEEvent(wf *lockedWriteFlusher, event string, payload []byte) error {
	if bytes.ContainsAny(payload, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return fmt.Errorf("compact %s event: %w", event, err)
		}
		payload = buf.Bytes()
	}
	if _, err := fmt.Fprintf(wf, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return &streamWriteError{err: err}
	}
	if err := wf.Flush(); err != nil {
		return &streamWriteError{err: err}
	}
	return nil
}

func writeSSEJSON(wf *lockedWriteFlusher, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	return writeSSEEvent(wf, event, payload)
}

type connectedEvent struct {
	Type      string `json:"type"`
	Stream    string `json:"stream"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

type heartbeatEvent struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"session_id,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Count         int64  `json:"count"`
}

// handleGetMCP opens a long-lived event stream, session-scoped when the
// request names a live session and generic otherwise.
func (h *StreamingHTTPHandler) handleGetMCP(w *responseWriter, r *http.Request) error {
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.get.start")

	if !acceptsMediaType(acceptedMediaTypes(r), eventStreamMediaType) {
		w.Header().Set("Allow", allowedMethods)
		return &httpError{status: http.StatusMethodNotAllowed, msg: "GET requires Accept: text/event-stream"}
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	kind := streamGeneric
	if sessID != "" {
		if _, err := h.store.Get(ctx, sessID); err != nil {
			if errors.Is(err, sessions.ErrSessionNotFound) {
				h.log.InfoContext(ctx, "session.resolve.miss")
				return badRequest("Invalid session")
			}
			return fmt.Errorf("load session: %w", err)
		}
		kind = streamSessionScoped
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID})
	}
	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{Kind: kind})

	wf := w.startStream(ctx, nil)
	return h.runStream(ctx, wf, sessID)
}

// runStream drives a GET stream until the peer goes away or ctx ends. Write
// failures end the stream quietly; any other error is returned so the caller
// can report it in-band.
func (h *StreamingHTTPHandler) runStream(ctx context.Context, wf *lockedWriteFlusher, sessID string) error {
	start := h.now()
	h.log.InfoContext(ctx, "sse.stream.start")
	defer func() {
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", h.now().Sub(start)))
	}()

	var ready <-chan struct{}
	if sessID != "" && h.outbx != nil {
		sub, err := h.outbx.Subscribe(ctx, sessID)
		if err != nil {
			return fmt.Errorf("subscribe to outbox: %w", err)
		}
		defer func() { _ = sub.Close() }()
		ready = sub.Ready()
	}

	if err := h.writeConnected(wf, sessID); err != nil {
		return h.endStream(ctx, err)
	}

	if ready != nil {
		if err := h.flushOutbox(ctx, wf, sessID); err != nil {
			return h.endStream(ctx, err)
		}
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	var beats int64
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ready:
			if err := h.flushOutbox(ctx, wf, sessID); err != nil {
				return h.endStream(ctx, err)
			}

		case <-ticker.C:
			beats++
			ev := heartbeatEvent{
				Type:          eventHeartbeat,
				Timestamp:     h.now().UTC().Format(time.RFC3339),
				SessionID:     sessID,
				UptimeSeconds: int64(h.now().Sub(start) / time.Second),
				Count:         beats,
			}
			if err := writeSSEJSON(wf, eventHeartbeat, ev); err != nil {
				return h.endStream(ctx, err)
			}
			h.log.DebugContext(ctx, "sse.heartbeat", slog.Int64("count", beats))
		}
	}
}

func (h *StreamingHTTPHandler) writeConnected(wf *lockedWriteFlusher, sessID string) error {
	ev := connectedEvent{
		Type:      "generic_stream_established",
		Stream:    streamGeneric,
		Message:   "Server stream ready - send session ID in subsequent requests",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if sessID != "" {
		ev = connectedEvent{
			Type:      "server_stream_established",
			Stream:    streamSessionScoped,
			SessionID: sessID,
			Timestamp: ev.Timestamp,
		}
	}
	return writeSSEJSON(wf, eventConnected, ev)
}

// flushOutbox drains the session's pending messages and writes them in order.
// Drained entries are gone from the outbox even if a write fails.
func (h *StreamingHTTPHandler) flushOutbox(ctx context.Context, wf *lockedWriteFlusher, sessID string) error {
	envs, err := h.outbx.Drain(ctx, sessID)
	if err != nil {
		if ctx.Err() != nil {
			return &streamWriteError{err: ctx.Err()}
		}
		return fmt.Errorf("drain outbox: %w", err)
	}
	for _, env := range envs {
		if err := writeSSEEvent(wf, eventMessage, env.Data); err != nil {
			return err
		}
		h.log.DebugContext(ctx, "sse.outbox.delivered", slog.String("envelope_id", env.ID))
	}
	return nil
}

// endStream swallows write failures and passes everything else through.
func (h *StreamingHTTPHandler) endStream(ctx context.Context, err error) error {
	var we *streamWriteError
	if errors.As(err, &we) {
		h.log.DebugContext(ctx, "sse.stream.write_fail", slog.String("err", err.Error()))
		return nil
	}
	return err
}
