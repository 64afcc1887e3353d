package memory

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/user/recall/internal/storage"
	"github.com/user/recall/internal/types"
)

// failingBackend fails every write once armed.
type failingBackend struct {
	types.Backend
	fail bool
}

var errBackendDown = errors.New("backend down")

func (f *failingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return errBackendDown
	}
	return f.Backend.Set(ctx, key, value, ttl)
}

func (f *failingBackend) RPush(ctx context.Context, key string, values ...[]byte) error {
	if f.fail {
		return errBackendDown
	}
	return f.Backend.RPush(ctx, key, values...)
}

func (f *failingBackend) Delete(ctx context.Context, keys ...string) error {
	if f.fail {
		return errBackendDown
	}
	return f.Backend.Delete(ctx, keys...)
}

func TestPersist_ReloadRestoresSessions(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	m := NewManager(WithBackend(backend))
	mustAdd(t, m, "s1", conversation()...)
	mustAdd(t, m, "s2", UserMessage("other"))
	if _, err := m.Remove(ctx, "s1", ByRole(RoleSystem)); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, m, "s1", UserMessage("u4"))
	want := m.GetMessages("s1", Query{})

	reloaded := NewManager(WithBackend(backend))
	if err := reloaded.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if ids := reloaded.ListSessions(); len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
	got := reloaded.GetMessages("s1", Query{})
	if !slices.EqualFunc(want, got, Message.Equal) {
		t.Errorf("reloaded messages differ:\n got %s\nwant %s", contents(got), contents(want))
	}

	// The operation log survives, so undo works across a restart.
	if ok, err := reloaded.Undo(ctx, "s1"); err != nil || !ok {
		t.Fatalf("undo after reload: %v %v", ok, err)
	}
	if ok, err := reloaded.Undo(ctx, "s1"); err != nil || !ok {
		t.Fatalf("second undo after reload: %v %v", ok, err)
	}
	if got := sessionContents(reloaded, "s1"); got != "sys,u1,a1,u2,a2,u3,a3" {
		t.Errorf("got %q", got)
	}
}

func TestPersist_AppendOnlyWrites(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	m := NewManager(WithBackend(backend))

	mustAdd(t, m, "s1", UserMessage("a"))
	mustAdd(t, m, "s1", UserMessage("b"), UserMessage("c"))
	n, err := backend.LLen(ctx, "messages:s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 stored messages, got %d", n)
	}
	if _, err := m.DeleteLast(ctx, "s1", 1); err != nil {
		t.Fatal(err)
	}
	if n, _ := backend.LLen(ctx, "messages:s1"); n != 2 {
		t.Errorf("expected rewrite to 2 messages, got %d", n)
	}
}

func TestPersist_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Backend: storage.NewMemoryBackend()}
	m := NewManager(WithBackend(backend))
	mustAdd(t, m, "s1", UserMessage("a"))

	backend.fail = true
	if _, err := m.AddUser(ctx, "s1", "b"); !errors.Is(err, errBackendDown) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if got := sessionContents(m, "s1"); got != "a" {
		t.Errorf("failed write changed the session: %q", got)
	}
	if len(m.Operations("s1")) != 1 {
		t.Error("failed write must not be recorded")
	}
	if _, err := m.AddUser(ctx, "s2", "new"); err == nil {
		t.Fatal("expected error")
	}
	if m.HasSession("s2") {
		t.Error("failed first write must not create the session")
	}
	if ok, err := m.Undo(ctx, "s1"); ok || err == nil {
		t.Errorf("undo should fail while the backend is down: %v %v", ok, err)
	}
	if !m.CanUndo("s1") {
		t.Error("failed undo must keep the log")
	}

	backend.fail = false
	if ok, err := m.Undo(ctx, "s1"); !ok || err != nil {
		t.Errorf("undo after recovery: %v %v", ok, err)
	}
}

// oplogFailBackend lets list writes through but fails the next failSets
// value writes, so a commit can land its messages without its oplog.
type oplogFailBackend struct {
	types.Backend
	failSets int
}

func (f *oplogFailBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failSets > 0 {
		f.failSets--
		return errBackendDown
	}
	return f.Backend.Set(ctx, key, value, ttl)
}

func TestPersist_PartialWriteIsRepaired(t *testing.T) {
	tests := []struct {
		name     string
		failSets int
	}{
		{"repaired on rollback", 1},
		{"repaired on next write", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := &oplogFailBackend{Backend: storage.NewMemoryBackend()}
			m := NewManager(WithBackend(backend))
			mustAdd(t, m, "s1", UserMessage("a"))

			backend.failSets = tt.failSets
			if _, err := m.AddUser(ctx, "s1", "b"); !errors.Is(err, errBackendDown) {
				t.Fatalf("expected backend error, got %v", err)
			}
			mustAdd(t, m, "s1", UserMessage("c"))

			reloaded := NewManager(WithBackend(backend))
			if err := reloaded.Reload(ctx); err != nil {
				t.Fatal(err)
			}
			if got := sessionContents(reloaded, "s1"); got != "a,c" {
				t.Fatalf("stored list diverged from memory: %q", got)
			}
			if ok, err := reloaded.Undo(ctx, "s1"); !ok || err != nil {
				t.Fatalf("undo after reload: %v %v", ok, err)
			}
			if got := sessionContents(reloaded, "s1"); got != "a" {
				t.Errorf("got %q after undo", got)
			}
		})
	}
}

func TestPersist_DeleteAndLoadSession(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	m := NewManager(WithBackend(backend))
	mustAdd(t, m, "s1", UserMessage("a"))

	other := NewManager(WithBackend(backend))
	if err := other.LoadSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if got := sessionContents(other, "s1"); got != "a" {
		t.Errorf("got %q", got)
	}
	if err := other.LoadSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	keys, err := backend.Keys(ctx, "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("expected backend empty after delete, got %v", keys)
	}
}

func TestPersist_SaveAndTTL(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	mustAdd(t, m, "s1", UserMessage("a"))
	mustAdd(t, m, "s2", UserMessage("b"))

	backend := storage.NewMemoryBackend()
	m.backend = backend
	m.sessionTTL = 50 * time.Millisecond
	if err := m.Save(ctx); err != nil {
		t.Fatal(err)
	}
	keys, _ := backend.Keys(ctx, "messages:*")
	if len(keys) != 2 {
		t.Errorf("expected 2 saved sessions, got %v", keys)
	}

	time.Sleep(120 * time.Millisecond)
	keys, _ = backend.Keys(ctx, "*")
	if len(keys) != 0 {
		t.Errorf("expected sessions to expire, got %v", keys)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	for _, id := range []string{"old", "mid", "new"} {
		mustAdd(t, m, id, UserMessage(id))
	}
	m.lookup("old").lastUsed = time.Now().Add(-2 * time.Hour)
	m.lookup("mid").lastUsed = time.Now().Add(-30 * time.Minute)

	removed, err := m.Prune(ctx, PrunePolicy{IdleTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "old" {
		t.Errorf("expected old pruned, got %v", removed)
	}

	removed, err = m.Prune(ctx, PrunePolicy{MaxSessions: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "mid" {
		t.Errorf("expected mid pruned, got %v", removed)
	}
	if ids := m.ListSessions(); len(ids) != 1 || ids[0] != "new" {
		t.Errorf("unexpected sessions left: %v", ids)
	}
}
