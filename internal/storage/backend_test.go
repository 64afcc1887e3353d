package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/user/recall/internal/types"
)

// runBackendSuite checks the behavior every backend shares.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) types.Backend) {
	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		if _, err := b.Get(context.Background(), "nope"); !errors.Is(err, types.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if err := b.Set(ctx, "oplog:s1", []byte(`{"seq":3}`), 0); err != nil {
			t.Fatal(err)
		}
		got, err := b.Get(ctx, "oplog:s1")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != `{"seq":3}` {
			t.Errorf("expected stored value, got %s", got)
		}
		if err := b.Set(ctx, "oplog:s1", []byte("plain text"), 0); err != nil {
			t.Fatal(err)
		}
		got, _ = b.Get(ctx, "oplog:s1")
		if string(got) != "plain text" {
			t.Errorf("expected overwritten value, got %s", got)
		}
		if err := b.Delete(ctx, "oplog:s1", "never-existed"); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Get(ctx, "oplog:s1"); !errors.Is(err, types.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}
	})

	t.Run("ListOrder", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if err := b.RPush(ctx, "messages:s1", []byte(`"b"`), []byte(`"c"`)); err != nil {
			t.Fatal(err)
		}
		if err := b.LPush(ctx, "messages:s1", []byte(`"a"`)); err != nil {
			t.Fatal(err)
		}
		if err := b.RPush(ctx, "messages:s1", []byte("raw-bytes")); err != nil {
			t.Fatal(err)
		}
		got, err := b.LRange(ctx, "messages:s1", 0, -1)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{`"a"`, `"b"`, `"c"`, "raw-bytes"}
		if !slices.Equal(toStrings(got), want) {
			t.Errorf("expected %v, got %v", want, toStrings(got))
		}
		n, err := b.LLen(ctx, "messages:s1")
		if err != nil || n != 4 {
			t.Errorf("expected length 4, got %d (%v)", n, err)
		}

		tail, err := b.LRange(ctx, "messages:s1", -2, -1)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(toStrings(tail), []string{`"c"`, "raw-bytes"}) {
			t.Errorf("unexpected tail %v", toStrings(tail))
		}
		empty, err := b.LRange(ctx, "messages:s1", 10, 20)
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty out-of-range slice, got %v (%v)", empty, err)
		}
	})

	t.Run("LPushOrder", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if err := b.LPush(ctx, "l", []byte("1"), []byte("2"), []byte("3")); err != nil {
			t.Fatal(err)
		}
		got, _ := b.LRange(ctx, "l", 0, -1)
		if !slices.Equal(toStrings(got), []string{"3", "2", "1"}) {
			t.Errorf("expected reversed push order, got %v", toStrings(got))
		}
	})

	t.Run("MissingList", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		got, err := b.LRange(ctx, "messages:none", 0, -1)
		if err != nil || len(got) != 0 {
			t.Errorf("expected empty list, got %v (%v)", got, err)
		}
		n, err := b.LLen(ctx, "messages:none")
		if err != nil || n != 0 {
			t.Errorf("expected zero length, got %d (%v)", n, err)
		}
	})

	t.Run("Keys", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for i := range 3 {
			if err := b.RPush(ctx, fmt.Sprintf("messages:s%d", i), []byte("{}")); err != nil {
				t.Fatal(err)
			}
		}
		if err := b.Set(ctx, "oplog:s0", []byte("{}"), 0); err != nil {
			t.Fatal(err)
		}
		keys, err := b.Keys(ctx, "messages:*")
		if err != nil {
			t.Fatal(err)
		}
		slices.Sort(keys)
		want := []string{"messages:s0", "messages:s1", "messages:s2"}
		if !slices.Equal(keys, want) {
			t.Errorf("expected %v, got %v", want, keys)
		}
	})

	t.Run("Expire", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if err := b.Set(ctx, "short", []byte("x"), 50*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if err := b.RPush(ctx, "list", []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := b.Expire(ctx, "list", 50*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if err := b.Set(ctx, "long", []byte("y"), time.Hour); err != nil {
			t.Fatal(err)
		}
		time.Sleep(120 * time.Millisecond)
		if _, err := b.Get(ctx, "short"); !errors.Is(err, types.ErrKeyNotFound) {
			t.Errorf("expected expired value, got %v", err)
		}
		if n, _ := b.LLen(ctx, "list"); n != 0 {
			t.Errorf("expected expired list, got length %d", n)
		}
		if _, err := b.Get(ctx, "long"); err != nil {
			t.Errorf("expected live value, got %v", err)
		}
	})
}

func toStrings(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func TestMemoryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) types.Backend { return NewMemoryBackend() })
}

func TestFileBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) types.Backend {
		b, err := NewFileBackend(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

func TestRetryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) types.Backend {
		return WithRetry(NewMemoryBackend(), nil)
	})
}

func TestMemoryBackend_WrongType(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	if err := b.RPush(ctx, "l", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "l"); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
	if err := b.Set(ctx, "v", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := b.RPush(ctx, "v", []byte("2")); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
}

func TestListBounds(t *testing.T) {
	cases := []struct {
		n, start, stop int64
		lo, hi         int64
		ok             bool
	}{
		{5, 0, -1, 0, 5, true},
		{5, 1, 2, 1, 3, true},
		{5, -2, -1, 3, 5, true},
		{5, -10, 1, 0, 2, true},
		{5, 3, 100, 3, 5, true},
		{5, 4, 2, 0, 0, false},
		{5, 5, 9, 0, 0, false},
		{0, 0, -1, 0, 0, false},
	}
	for _, tc := range cases {
		lo, hi, ok := listBounds(tc.n, tc.start, tc.stop)
		if lo != tc.lo || hi != tc.hi || ok != tc.ok {
			t.Errorf("listBounds(%d,%d,%d) = %d,%d,%v; want %d,%d,%v",
				tc.n, tc.start, tc.stop, lo, hi, ok, tc.lo, tc.hi, tc.ok)
		}
	}
}
