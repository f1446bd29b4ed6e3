package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ggoodman/salon-mcp/broker"
	"github.com/ggoodman/salon-mcp/internal/engine"
	"github.com/ggoodman/salon-mcp/internal/jsonrpc"
	"github.com/ggoodman/salon-mcp/internal/logctx"
)

// DefaultMaxMessageBytes bounds one input line unless overridden.
const DefaultMaxMessageBytes = 4 << 20

const streamKind = "stdio"

var parseErrorLine = []byte(`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`)

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
type Handler struct {
	eng             *engine.Engine
	r               io.Reader
	w               io.Writer
	log             *slog.Logger
	outbox          broker.Broker
	sessionID       string
	maxMessageBytes int

	wmu    sync.Mutex
	served atomic.Bool
}

// New constructs a Handler with defaults and applies options.
func New(eng *engine.Engine, opts ...Option) (*Handler, error) {
	if eng == nil {
		return nil, errors.New("stdio: nil engine")
	}
	h := &Handler{
		eng:             eng,
		r:               os.Stdin,
		w:               os.Stdout,
		log:             slog.Default(),
		sessionID:       uuid.NewString(),
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxMessageBytes <= 0 {
		return nil, fmt.Errorf("stdio: max message bytes must be positive, got %d", h.maxMessageBytes)
	}
	return h, nil
}

// SessionID reports the implicit session id used for engine calls.
func (h *Handler) SessionID() string { return h.sessionID }

// Serve runs the read loop until EOF on the reader or ctx is done. It waits
// for in-flight requests before returning. EOF returns nil; cancellation
// returns the context's error. Serve may be called once.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return errors.New("stdio: Serve called more than once")
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: h.sessionID, ProtocolVersion: h.eng.ProtocolVersion()})
	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{Kind: streamKind})

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), h.maxMessageBytes)
		for sc.Scan() {
			select {
			case lines <- bytes.Clone(sc.Bytes()):
			case <-readCtx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer h.cleanup(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer wg.Wait()

	h.log.InfoContext(ctx, "stdio.serve.start")
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case err := <-readErr:
			wg.Wait()
			if err != nil {
				h.log.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: read: %w", err)
			}
			h.log.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			h.dispatch(ctx, &wg, line)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, wg *sync.WaitGroup, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	msg, err := jsonrpc.Decode(line)
	switch {
	case errors.Is(err, jsonrpc.ErrNotObject):
		h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.MessageInvalidRequest, nil))
		return
	case err != nil:
		h.log.InfoContext(ctx, "stdio.message.parse_error")
		h.writeLine(ctx, parseErrorLine)
		return
	}

	switch msg.Kind() {
	case jsonrpc.KindRequest:
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handleRequest(ctx, msg)
		}()
	case jsonrpc.KindNotification:
		h.eng.HandleNotification(ctx, h.sessionID, msg)
	case jsonrpc.KindResponse:
		h.eng.HandleResponse(ctx, h.sessionID, msg)
	default:
		h.write(ctx, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.MessageInvalidRequest, nil))
	}
}

func (h *Handler) handleRequest(ctx context.Context, msg *jsonrpc.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "stdio.request.panic", slog.Any("panic", rec), slog.String("method", msg.Method))
			h.write(ctx, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil))
		}
	}()

	h.write(ctx, h.eng.HandleRequest(ctx, h.sessionID, msg))
	h.flushOutbox(ctx)
}

// flushOutbox writes messages queued for the session, oldest first.
func (h *Handler) flushOutbox(ctx context.Context) {
	if h.outbox == nil {
		return
	}
	envs, err := h.outbox.Drain(ctx, h.sessionID)
	if err != nil {
		h.log.WarnContext(ctx, "stdio.outbox.drain.fail", slog.String("err", err.Error()))
		return
	}
	for _, env := range envs {
		data := env.Data
		if bytes.ContainsAny(data, "\r\n") {
			var buf bytes.Buffer
			if err := json.Compact(&buf, data); err != nil {
				h.log.WarnContext(ctx, "stdio.outbox.invalid", slog.String("id", env.ID))
				continue
			}
			data = buf.Bytes()
		}
		h.writeLine(ctx, data)
	}
}

func (h *Handler) cleanup(ctx context.Context) {
	if h.outbox == nil {
		return
	}
	if err := h.outbox.Cleanup(ctx, h.sessionID); err != nil {
		h.log.WarnContext(ctx, "stdio.outbox.cleanup.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) write(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.ErrorContext(ctx, "stdio.write.encode_fail", slog.String("err", err.Error()))
		return
	}
	h.writeLine(ctx, b)
}

// writeLine writes b followed by a newline as one Write call.
func (h *Handler) writeLine(ctx context.Context, b []byte) {
	line := make([]byte, 0, len(b)+1)
	line = append(line, b...)
	line = append(line, '\n')

	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(line); err != nil {
		h.log.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
