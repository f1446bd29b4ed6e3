package stdio

import (
	"io"
	"log/slog"

	"github.com/ggoodman/salon-mcp/broker"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithBroker sets the outbox drained after each response. It should be the
// broker the engine publishes to.
func WithBroker(b broker.Broker) Option {
	return func(h *Handler) { h.outbox = b }
}

// WithSessionID fixes the implicit session id. Defaults to a random UUID.
func WithSessionID(id string) Option {
	return func(h *Handler) {
		if id != "" {
			h.sessionID = id
		}
	}
}

// WithMaxMessageBytes bounds a single input line. Defaults to
// DefaultMaxMessageBytes.
func WithMaxMessageBytes(n int) Option {
	return func(h *Handler) { h.maxMessageBytes = n }
}
