package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/salon-mcp/broker"
	"github.com/ggoodman/salon-mcp/internal/engine"
	"github.com/ggoodman/salon-mcp/internal/logctx"
	"github.com/ggoodman/salon-mcp/sessions"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "MCP-Protocol-Version"

	allowedMethods = "GET, POST, HEAD, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Accept, MCP-Protocol-Version, Mcp-Session-Id"

	// DefaultPath is the route the handler serves unless WithPath is given.
	DefaultPath = "/mcp"
	// DefaultHeartbeatInterval is the idle time between heartbeat events.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultMaxBodyBytes bounds POST bodies.
	DefaultMaxBodyBytes int64 = 1 << 20
)

// httpError is a transport-level rejection. It is rendered by writeJSONError
// unless a stream has already started.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return fmt.Sprintf("http %d: %s", e.status, e.msg) }

func badRequest(msg string) error { return &httpError{status: http.StatusBadRequest, msg: msg} }

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. Shape: {"error":{"code":<status>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return nil
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger            *slog.Logger
	broker            broker.Broker
	path              string
	heartbeatInterval time.Duration
	maxBodyBytes      int64
	strictVersion     bool
	now               func() time.Time
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBroker enables outbox delivery on session-scoped GET streams and outbox
// cleanup on DELETE.
func WithBroker(b broker.Broker) Option {
	return func(c *newConfig) { c.broker = b }
}

// WithPath sets the route. Defaults to DefaultPath.
func WithPath(path string) Option {
	return func(c *newConfig) { c.path = path }
}

// WithHeartbeatInterval sets the idle interval between heartbeat events.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *newConfig) { c.heartbeatInterval = d }
}

// WithMaxBodyBytes bounds the size of POST bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) { c.maxBodyBytes = n }
}

// WithStrictProtocolVersion rejects requests whose MCP-Protocol-Version
// header disagrees with the session's negotiated version. By default the
// mismatch is only logged.
func WithStrictProtocolVersion(strict bool) Option {
	return func(c *newConfig) { c.strictVersion = strict }
}

// WithClock overrides the time source used for timestamps and uptime.
func WithClock(now func() time.Time) Option {
	return func(c *newConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// StreamingHTTPHandler serves the MCP endpoint.
type StreamingHTTPHandler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	store sessions.Store
	eng   *engine.Engine
	outbx broker.Broker

	heartbeatInterval time.Duration
	maxBodyBytes      int64
	strictVersion     bool
	now               func() time.Time
}

// New constructs a StreamingHTTPHandler over a session store and a protocol
// engine.
func New(store sessions.Store, eng *engine.Engine, opts ...Option) (*StreamingHTTPHandler, error) {
	if store == nil {
		return nil, errors.New("streaminghttp: nil session store")
	}
	if eng == nil {
		return nil, errors.New("streaminghttp: nil engine")
	}

	cfg := newConfig{
		logger:            slog.Default(),
		path:              DefaultPath,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxBodyBytes:      DefaultMaxBodyBytes,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !strings.HasPrefix(cfg.path, "/") {
		return nil, fmt.Errorf("streaminghttp: path %q must start with /", cfg.path)
	}
	if cfg.heartbeatInterval <= 0 {
		return nil, fmt.Errorf("streaminghttp: heartbeat interval must be positive, got %s", cfg.heartbeatInterval)
	}
	if cfg.maxBodyBytes <= 0 {
		return nil, fmt.Errorf("streaminghttp: max body bytes must be positive, got %d", cfg.maxBodyBytes)
	}

	h := &StreamingHTTPHandler{
		log:               cfg.logger,
		store:             store,
		eng:               eng,
		outbx:             cfg.broker,
		heartbeatInterval: cfg.heartbeatInterval,
		maxBodyBytes:      cfg.maxBodyBytes,
		strictVersion:     cfg.strictVersion,
		now:               cfg.now,
	}

	mux := http.NewServeMux()
	mux.Handle(fmt.Sprintf("POST %s", cfg.path), h.boundary(h.handlePostMCP))
	mux.Handle(fmt.Sprintf("GET %s", cfg.path), h.boundary(h.handleGetMCP))
	mux.Handle(fmt.Sprintf("DELETE %s", cfg.path), h.boundary(h.handleDeleteMCP))
	mux.Handle(fmt.Sprintf("HEAD %s", cfg.path), h.boundary(h.handleHeadMCP))
	mux.Handle(fmt.Sprintf("OPTIONS %s", cfg.path), h.boundary(h.handleOptionsMCP))
	h.mux = mux
	return h, nil
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlerFunc is an endpoint that reports failures instead of writing them.
type handlerFunc func(w *responseWriter, r *http.Request) error

// boundary turns returned errors and panics into responses. Before a stream
// starts they become JSON error bodies; afterwards a final SSE error event.
func (h *StreamingHTTPHandler) boundary(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w}
		ctx := r.Context()

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.log.ErrorContext(ctx, "http.handler.panic", slog.Any("panic", rec))
			h.fail(ctx, rw, fmt.Errorf("panic: %v", rec))
		}()

		if err := fn(rw, r); err != nil {
			h.fail(ctx, rw, err)
		}
	})
}

func (h *StreamingHTTPHandler) fail(ctx context.Context, rw *responseWriter, err error) {
	if rw.stream != nil {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		if werr := writeSSEEvent(rw.stream, eventError, internalErrorEvent); werr != nil {
			h.log.DebugContext(ctx, "sse.error_event.fail", slog.String("err", werr.Error()))
		}
		return
	}

	var herr *httpError
	if errors.As(err, &herr) {
		h.log.InfoContext(ctx, "http.reject", slog.Int("status", herr.status), slog.String("reason", herr.msg))
		if !rw.wroteHeader {
			writeJSONError(rw, herr.status, herr.msg)
		}
		return
	}

	h.log.ErrorContext(ctx, "http.fail", slog.String("err", err.Error()))
	if !rw.wroteHeader {
		writeJSONError(rw, http.StatusInternalServerError, "Internal server error")
	}
}

// responseWriter records whether the status line has been written and
// whether the response has become an SSE stream.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
	stream      *lockedWriteFlusher
}

func (rw *responseWriter) WriteHeader(status int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(p)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// startStream commits SSE headers and returns the writer for the stream.
func (rw *responseWriter) startStream(ctx context.Context, extra http.Header) *lockedWriteFlusher {
	hdr := rw.Header()
	hdr.Set("Content-Type", eventStreamMediaType.String())
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("X-Proxy-Buffering", "no")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Headers", allowedHeaders)
	for k, vs := range extra {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	rw.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(rw.ResponseWriter)
	rw.stream = &lockedWriteFlusher{Writer: rw, flush: rc.Flush, ctx: ctx}
	_ = rw.stream.Flush()
	return rw.stream
}

// lockedWriteFlusher serializes writes and flushes on a stream and refuses to
// write once ctx is done.
type lockedWriteFlusher struct {
	io.Writer
	flush func() error
	mu    sync.Mutex
	ctx   context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return l.ctx.Err()
	}
	if err := l.flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// handleHeadMCP advertises the endpoint's media types and CORS policy.
func (h *StreamingHTTPHandler) handleHeadMCP(w *responseWriter, r *http.Request) error {
	h.setDiscoveryHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	return nil
}

// handleOptionsMCP answers CORS preflight requests.
func (h *StreamingHTTPHandler) handleOptionsMCP(w *responseWriter, r *http.Request) error {
	h.setDiscoveryHeaders(w.Header())
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders+", Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *StreamingHTTPHandler) setDiscoveryHeaders(hdr http.Header) {
	hdr.Set("Content-Type", jsonMediaType.String())
	hdr.Set("Accept", jsonMediaType.String()+", "+eventStreamMediaType.String())
	hdr.Set(mcpProtocolVersionHeader, h.eng.ProtocolVersion())
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", allowedMethods)
	hdr.Set("Access-Control-Allow-Headers", allowedHeaders)
}

// handleDeleteMCP terminates the session named by the Mcp-Session-Id header
// and drops its outbox.
func (h *StreamingHTTPHandler) handleDeleteMCP(w *responseWriter, r *http.Request) error {
	start := h.now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		return badRequest("missing session id")
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID})

	if err := h.store.Terminate(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.InfoContext(ctx, "session.delete.miss")
			return &httpError{status: http.StatusNotFound, msg: "session not found"}
		}
		return fmt.Errorf("terminate session: %w", err)
	}

	if h.outbx != nil {
		if err := h.outbx.Cleanup(ctx, sessID); err != nil {
			h.log.WarnContext(ctx, "outbox.cleanup.fail", slog.String("err", err.Error()))
		}
	}

	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", h.now().Sub(start)))
	return nil
}
