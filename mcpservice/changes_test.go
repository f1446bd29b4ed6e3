package mcpservice

import (
	"context"
	"testing"
)

func TestTrackChanges(t *testing.T) {
	// Marking an untracked context is harmless.
	MarkChanged(context.Background())

	ctx, changed := TrackChanges(context.Background())
	if changed() {
		t.Fatal("expected no change before MarkChanged")
	}
	MarkChanged(ctx)
	if !changed() {
		t.Fatal("expected change after MarkChanged")
	}

	// Each tracked call starts clean.
	_, other := TrackChanges(ctx)
	if other() {
		t.Fatal("expected a fresh tracker for a nested call")
	}
}
