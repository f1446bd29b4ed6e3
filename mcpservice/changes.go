package mcpservice

import (
	"context"
	"sync/atomic"
)

type changeKey struct{}

// TrackChanges returns a context for one tool call and a func reporting
// whether the handler called MarkChanged on it.
func TrackChanges(ctx context.Context) (context.Context, func() bool) {
	var changed atomic.Bool
	return context.WithValue(ctx, changeKey{}, &changed), changed.Load
}

// MarkChanged records that the running tool call modified the resources its
// tool touches. Listeners are only notified of calls that marked a change. It
// is a no-op on contexts not derived from TrackChanges.
func MarkChanged(ctx context.Context) {
	if changed, ok := ctx.Value(changeKey{}).(*atomic.Bool); ok {
		changed.Store(true)
	}
}
