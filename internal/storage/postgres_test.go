package storage

import (
	"context"
	"os"
	"testing"

	"github.com/user/recall/internal/types"
)

func TestGlobToLike(t *testing.T) {
	cases := map[string]string{
		"messages:*": "messages:%",
		"oplog:s?":   "oplog:s_",
		"100%_done":  `100\%\_done`,
		"user:[ab]*": "user:%ab%%",
		"exact":      "exact",
	}
	for glob, want := range cases {
		if got := globToLike(glob); got != want {
			t.Errorf("globToLike(%q) = %q, want %q", glob, got, want)
		}
	}
}

// TestPostgresBackend runs against a live database when
// RECALL_TEST_POSTGRES_DSN is set.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("RECALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RECALL_TEST_POSTGRES_DSN not set")
	}
	runBackendSuite(t, func(t *testing.T) types.Backend {
		ctx := context.Background()
		b, err := OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.db.ExecContext(ctx, `TRUNCATE recall_kv, recall_list, recall_list_meta`); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	})
}
