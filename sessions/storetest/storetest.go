// Package storetest holds the conformance suite every sessions.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/salon-mcp/sessions"
)

// StoreFactory creates a new, empty Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Create_ReturnsUninitializedSession", func(t *testing.T) { testCreate(t, factory) })
	t.Run("Create_IssuesUniqueIDs", func(t *testing.T) { testCreateUnique(t, factory) })
	t.Run("Exists_EmptyAndUnknownIDs", func(t *testing.T) { testExistsEmptyAndUnknown(t, factory) })
	t.Run("Adopt_CreatesThenReturnsExisting", func(t *testing.T) { testAdopt(t, factory) })
	t.Run("Adopt_RejectsEmptyID", func(t *testing.T) { testAdoptEmpty(t, factory) })
	t.Run("Update_MergesPatch", func(t *testing.T) { testUpdateMerges(t, factory) })
	t.Run("Update_MissingDoesNotCreate", func(t *testing.T) { testUpdateMissing(t, factory) })
	t.Run("InitializeSession_Idempotent", func(t *testing.T) { testInitializeIdempotent(t, factory) })
	t.Run("Extend_KeepsRecord", func(t *testing.T) { testExtend(t, factory) })
	t.Run("Terminate_RemovesRecord", func(t *testing.T) { testTerminate(t, factory) })
	t.Run("Create_AfterTerminateIssuesNewID", func(t *testing.T) { testCreateAfterTerminate(t, factory) })
	t.Run("Concurrent_UpdatesAreSafe", func(t *testing.T) { testConcurrentUpdates(t, factory) })
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testCreate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a non-empty session id")
	}
	if sess.Initialized {
		t.Fatal("expected new session to be uninitialized")
	}
	if sess.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if !s.Exists(ctx, sess.ID) {
		t.Fatal("expected created session to exist")
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want, got := sess.ID, got.ID; want != got {
		t.Fatalf("expected id %q, got %q", want, got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", sess.CreatedAt, got.CreatedAt)
	}
}

func testCreateUnique(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		sess, err := s.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, dup := seen[sess.ID]; dup {
			t.Fatalf("duplicate session id %q", sess.ID)
		}
		seen[sess.ID] = struct{}{}
	}
}

func testExistsEmptyAndUnknown(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if s.Exists(ctx, "") {
		t.Fatal("empty id must not exist")
	}
	if s.Exists(ctx, "never-created") {
		t.Fatal("unknown id must not exist")
	}
	if _, err := s.Get(ctx, "never-created"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testAdopt(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	first, err := s.Adopt(ctx, "client-chosen-id")
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if want, got := "client-chosen-id", first.ID; want != got {
		t.Fatalf("expected id %q, got %q", want, got)
	}
	if !s.Exists(ctx, "client-chosen-id") {
		t.Fatal("expected adopted session to exist")
	}

	if _, err := sessions.InitializeSession(ctx, s, first.ID, "2025-03-26", time.Now()); err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}

	second, err := s.Adopt(ctx, "client-chosen-id")
	if err != nil {
		t.Fatalf("Adopt again: %v", err)
	}
	if !second.Initialized {
		t.Fatal("adopting an existing id must return the stored record")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at to be preserved, got %v want %v", second.CreatedAt, first.CreatedAt)
	}
}

func testAdoptEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if _, err := s.Adopt(ctx, ""); !errors.Is(err, sessions.ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
}

func testUpdateMerges(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	version := "2024-11-05"
	updated, err := s.Update(ctx, sess.ID, sessions.Patch{ProtocolVersion: &version})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if want, got := version, updated.ProtocolVersion; want != got {
		t.Fatalf("expected protocol version %q, got %q", want, got)
	}
	if updated.Initialized {
		t.Fatal("fields absent from the patch must be left untouched")
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want, got := version, got.ProtocolVersion; want != got {
		t.Fatalf("expected stored protocol version %q, got %q", want, got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatal("expected created_at to survive updates")
	}
}

func testUpdateMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	initialized := true
	if _, err := s.Update(ctx, "missing", sessions.Patch{Initialized: &initialized}); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if s.Exists(ctx, "missing") {
		t.Fatal("Update must not create sessions")
	}
}

func testInitializeIdempotent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	if _, err := s.Adopt(ctx, "sess-init"); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if _, err := sessions.InitializeSession(ctx, s, "sess-init", "2024-11-05", time.Now()); err != nil {
		t.Fatalf("first InitializeSession: %v", err)
	}
	if _, err := sessions.InitializeSession(ctx, s, "sess-init", "2025-03-26", time.Now()); err != nil {
		t.Fatalf("second InitializeSession: %v", err)
	}

	got, err := s.Get(ctx, "sess-init")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Initialized {
		t.Fatal("expected session to be initialized")
	}
	if want, got := "2025-03-26", got.ProtocolVersion; want != got {
		t.Fatalf("expected latest protocol version %q, got %q", want, got)
	}
	if got.InitializedAt.IsZero() {
		t.Fatal("expected initialized_at to be set")
	}
}

func testExtend(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Extend(ctx, sess.ID); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if !s.Exists(ctx, sess.ID) {
		t.Fatal("expected session to exist after Extend")
	}
	if err := s.Extend(ctx, "missing"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if s.Exists(ctx, "missing") {
		t.Fatal("Extend must not create sessions")
	}
}

func testTerminate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Terminate(ctx, sess.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if s.Exists(ctx, sess.ID) {
		t.Fatal("expected session to be gone after Terminate")
	}
	if err := s.Terminate(ctx, sess.ID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second Terminate, got %v", err)
	}
	if err := s.Terminate(ctx, "never-created"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testCreateAfterTerminate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		sess, err := s.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, dup := seen[sess.ID]; dup {
			t.Fatalf("Create reissued retired id %q", sess.ID)
		}
		seen[sess.ID] = struct{}{}
		if err := s.Terminate(ctx, sess.ID); err != nil {
			t.Fatalf("Terminate: %v", err)
		}
	}
}

func testConcurrentUpdates(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := testContext(t)

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := sessions.InitializeSession(ctx, s, sess.ID, "2025-03-26", time.Now()); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.Extend(ctx, sess.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Initialized {
		t.Fatal("expected session to be initialized after concurrent updates")
	}
}
