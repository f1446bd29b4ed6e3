package streaminghttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/salon-mcp/internal/jsonrpc"
	"github.com/ggoodman/salon-mcp/internal/logctx"
	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/ggoodman/salon-mcp/sessions"
)

// handlePostMCP accepts exactly one JSON-RPC message per request.
func (h *StreamingHTTPHandler) handlePostMCP(w *responseWriter, r *http.Request) error {
	start := h.now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	accepted := acceptedMediaTypes(r)
	if !acceptsMediaType(accepted, jsonMediaType) || !acceptsMediaType(accepted, eventStreamMediaType) {
		return badRequest("Accept header must include application/json and text/event-stream")
	}
	if err := checkJSONContentType(r); err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("Request body too large")
		}
		return badRequest("Failed to read request body")
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil && !errors.Is(err, jsonrpc.ErrNotObject) {
		return badRequest("Invalid JSON")
	}

	var method string
	if msg != nil && msg.HasMethod {
		method = msg.Method
	}
	isInitialize := method == string(mcp.InitializeMethod)

	var sess sessions.Session
	if isInitialize {
		sess, err = h.openSession(ctx, r)
	} else {
		sess, err = h.resolveSession(ctx, r)
	}
	if err != nil {
		return err
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
		Initialized:     sess.Initialized,
	})

	kind := jsonrpc.KindInvalid
	if msg != nil {
		kind = msg.Kind()
	}

	switch kind {
	case jsonrpc.KindRequest:
		if !isInitialize {
			if err := h.store.Extend(ctx, sess.ID); err != nil {
				if errors.Is(err, sessions.ErrSessionNotFound) {
					return badRequest("Invalid or missing session")
				}
				return fmt.Errorf("extend session: %w", err)
			}
		}
		if err := h.answerRequest(ctx, w, sess, msg, isInitialize, prefersEventStream(accepted)); err != nil {
			return err
		}

	case jsonrpc.KindNotification:
		h.eng.HandleNotification(ctx, sess.ID, msg)
		w.WriteHeader(http.StatusAccepted)

	case jsonrpc.KindResponse:
		h.eng.HandleResponse(ctx, sess.ID, msg)
		w.WriteHeader(http.StatusAccepted)

	default:
		var id *jsonrpc.RequestID
		if msg != nil {
			id = msg.ID
		}
		h.log.InfoContext(ctx, "http.post.invalid_message")
		res := jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.MessageInvalidRequest, nil)
		if err := writeJSON(w, http.StatusBadRequest, res); err != nil {
			return err
		}
	}

	h.log.InfoContext(ctx, "http.post.ok", slog.String("kind", kind.String()), slog.Duration("dur", h.now().Sub(start)))
	return nil
}

// openSession creates or adopts the session for an initialize request and
// marks it initialized.
func (h *StreamingHTTPHandler) openSession(ctx context.Context, r *http.Request) (sessions.Session, error) {
	var (
		sess sessions.Session
		err  error
	)
	if id := r.Header.Get(mcpSessionIDHeader); id != "" {
		sess, err = h.store.Adopt(ctx, id)
	} else {
		sess, err = h.store.Create(ctx)
	}
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidSessionID) {
			return sessions.Session{}, badRequest("Invalid or missing session")
		}
		return sessions.Session{}, fmt.Errorf("open session: %w", err)
	}

	pv := r.Header.Get(mcpProtocolVersionHeader)
	if pv == "" {
		pv = h.eng.ProtocolVersion()
	}
	sess, err = sessions.InitializeSession(ctx, h.store, sess.ID, pv, h.now())
	if err != nil {
		return sessions.Session{}, fmt.Errorf("initialize session: %w", err)
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.String("session_id", sess.ID))
	return sess, nil
}

// resolveSession loads the session named by the request header. Missing and
// unknown ids are both rejected with 400; store failures pass through.
func (h *StreamingHTTPHandler) resolveSession(ctx context.Context, r *http.Request) (sessions.Session, error) {
	id := r.Header.Get(mcpSessionIDHeader)
	if id == "" {
		h.log.InfoContext(ctx, "session.resolve.miss")
		return sessions.Session{}, badRequest("Invalid or missing session")
	}
	sess, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.InfoContext(ctx, "session.resolve.miss")
			return sessions.Session{}, badRequest("Invalid or missing session")
		}
		return sessions.Session{}, fmt.Errorf("load session: %w", err)
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && sess.ProtocolVersion != "" && pv != sess.ProtocolVersion {
		h.log.WarnContext(ctx, "session.protocol_version.mismatch",
			slog.String("client_version", pv),
			slog.String("session_version", sess.ProtocolVersion))
		if h.strictVersion {
			return sessions.Session{}, badRequest("Unsupported MCP-Protocol-Version")
		}
	}
	return sess, nil
}

// answerRequest dispatches a request and writes its response either as a
// plain JSON body or as a single SSE message event.
func (h *StreamingHTTPHandler) answerRequest(ctx context.Context, w *responseWriter, sess sessions.Session, msg *jsonrpc.Message, isInitialize, streamed bool) error {
	hdr := http.Header{}
	if sess.ProtocolVersion != "" {
		hdr.Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	}
	if isInitialize {
		hdr.Set(mcpSessionIDHeader, sess.ID)
	}

	if !streamed {
		res := h.eng.HandleRequest(ctx, sess.ID, msg)
		for k, vs := range hdr {
			w.Header()[k] = vs
		}
		return writeJSON(w, http.StatusOK, res)
	}

	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{Kind: "response"})
	wf := w.startStream(ctx, hdr)
	res := h.eng.HandleRequest(ctx, sess.ID, msg)
	if err := writeSSEJSON(wf, eventMessage, res); err != nil {
		return h.endStream(ctx, err)
	}
	if h.outbx == nil {
		return nil
	}
	// Messages queued by the request follow its response on the same stream.
	if err := h.flushOutbox(ctx, wf, sess.ID); err != nil {
		var we *streamWriteError
		if !errors.As(err, &we) {
			h.log.WarnContext(ctx, "sse.response.outbox_fail", slog.String("err", err.Error()))
			return nil
		}
		return h.endStream(ctx, err)
	}
	return nil
}
