// Package brokertest holds the conformance suite every broker.Broker
// implementation runs from its own tests.
package brokertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/salon-mcp/broker"
)

// BrokerFactory creates a new, empty Broker instance for testing.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the complete Broker test suite against the provided factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("Drain_EmptyOutbox", func(t *testing.T) { testDrainEmpty(t, factory) })
	t.Run("Drain_FIFOOrder", func(t *testing.T) { testFIFO(t, factory) })
	t.Run("Drain_AtMostOnce", func(t *testing.T) { testAtMostOnce(t, factory) })
	t.Run("Isolation_BetweenSessions", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Subscribe_WakesOnPublish", func(t *testing.T) { testWake(t, factory) })
	t.Run("Cleanup_DropsPending", func(t *testing.T) { testCleanup(t, factory) })
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testDrainEmpty(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	got, err := b.Drain(ctx, "sess-empty")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func testFIFO(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		if err := b.Publish(ctx, "sess-fifo", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got, err := b.Drain(ctx, "sess-fifo")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if want, got := 5, len(got); want != got {
		t.Fatalf("expected %d entries, got %d", want, got)
	}
	for i, env := range got {
		if want, got := fmt.Sprintf(`{"n":%d}`, i), string(env.Data); want != got {
			t.Fatalf("entry %d: expected %s, got %s", i, want, got)
		}
		if env.ID == "" {
			t.Fatalf("entry %d: expected an id", i)
		}
	}
}

func testAtMostOnce(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	if err := b.Publish(ctx, "sess-once", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	first, err := b.Drain(ctx, "sess-once")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if want, got := 1, len(first); want != got {
		t.Fatalf("expected %d entry, got %d", want, got)
	}
	second, err := b.Drain(ctx, "sess-once")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected drained entries to be gone, got %d", len(second))
	}
}

func testIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	if err := b.Publish(ctx, "sess-a", []byte(`"a"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := b.Drain(ctx, "sess-b")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries for another session, got %d", len(got))
	}
	got, err = b.Drain(ctx, "sess-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if want, got := 1, len(got); want != got {
		t.Fatalf("expected %d entry, got %d", want, got)
	}
}

func testWake(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	sub, err := b.Subscribe(ctx, "sess-wake")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "sess-wake", []byte(`{"hello":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-sub.Ready():
	case <-ctx.Done():
		t.Fatal("timed out waiting for wake-up signal")
	}

	got, err := b.Drain(ctx, "sess-wake")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if want, got := 1, len(got); want != got {
		t.Fatalf("expected %d entry, got %d", want, got)
	}
}

func testCleanup(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx := testContext(t)

	if err := b.Publish(ctx, "sess-clean", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Cleanup(ctx, "sess-clean"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got, err := b.Drain(ctx, "sess-clean")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected cleanup to drop pending entries, got %d", len(got))
	}
}
