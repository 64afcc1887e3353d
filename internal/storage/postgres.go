package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/tidwall/match"

	"github.com/user/recall/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recall_kv (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS recall_list_meta (
    key        TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS recall_list (
    key   TEXT   NOT NULL REFERENCES recall_list_meta(key) ON DELETE CASCADE,
    pos   BIGINT NOT NULL,
    value BYTEA  NOT NULL,
    PRIMARY KEY (key, pos)
);
`

// PostgresBackend stores values in recall_kv and lists in recall_list,
// ordered by pos. LPush writes below the current minimum position and RPush
// above the maximum, so neither rewrites existing rows.
type PostgresBackend struct {
	db *sqlx.DB
}

// OpenPostgres connects with dsn and creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := NewPostgresBackend(db)
	if err := b.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend uses an existing connection pool.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate creates the backend tables.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

func expiresAt(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
}

// purge drops key if it has expired.
func purge(ctx context.Context, ex sqlx.ExecerContext, key string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM recall_kv WHERE key = $1 AND expires_at <= now()`, key); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM recall_list_meta WHERE key = $1 AND expires_at <= now()`, key); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	return nil
}

func (b *PostgresBackend) isList(ctx context.Context, q sqlx.QueryerContext, key string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT count(*) FROM recall_list_meta WHERE key = $1`, key); err != nil {
		return false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := purge(ctx, b.db, key); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.GetContext(ctx, &value, `SELECT value FROM recall_kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		if list, lerr := b.isList(ctx, b.db, key); lerr == nil && list {
			return nil, ErrWrongType
		}
		return nil, types.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recall_list_meta WHERE key = $1`, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recall_kv (key, value, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
			key, value, expiresAt(ttl))
		return err
	})
}

func (b *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.tx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"recall_kv", "recall_list_meta"} {
			query, args, err := sqlx.In(`DELETE FROM `+table+` WHERE key IN (?)`, keys)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// globToLike turns a glob into a LIKE pattern that matches a superset of
// it; results are then filtered with the glob itself.
func globToLike(pattern string) string {
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteRune('%')
		case '?':
			sb.WriteRune('_')
		case '%', '_', '\\':
			sb.WriteRune('\\')
			sb.WriteRune(r)
		case '[', ']':
			sb.WriteRune('%')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (b *PostgresBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var candidates []string
	err := b.db.SelectContext(ctx, &candidates, `
		SELECT key FROM recall_kv WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
		UNION
		SELECT key FROM recall_list_meta WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key`, globToLike(pattern))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := candidates[:0]
	for _, k := range candidates {
		if match.Match(k, pattern) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// ensureList creates the list header for key. Caller runs inside tx.
func ensureList(ctx context.Context, tx *sqlx.Tx, key string) error {
	if err := purge(ctx, tx, key); err != nil {
		return err
	}
	var n int
	if err := tx.GetContext(ctx, &n, `SELECT count(*) FROM recall_kv WHERE key = $1`, key); err != nil {
		return err
	}
	if n > 0 {
		return ErrWrongType
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO recall_list_meta (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	return err
}

// LPush prepends values one at a time, so the last value ends up first.
func (b *PostgresBackend) LPush(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return b.tx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureList(ctx, tx, key); err != nil {
			return err
		}
		var low sql.NullInt64
		if err := tx.GetContext(ctx, &low, `SELECT min(pos) FROM recall_list WHERE key = $1`, key); err != nil {
			return err
		}
		next := low.Int64
		for _, v := range values {
			next--
			if _, err := tx.ExecContext(ctx, `INSERT INTO recall_list (key, pos, value) VALUES ($1, $2, $3)`, key, next, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) RPush(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return b.tx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureList(ctx, tx, key); err != nil {
			return err
		}
		var high sql.NullInt64
		if err := tx.GetContext(ctx, &high, `SELECT max(pos) FROM recall_list WHERE key = $1`, key); err != nil {
			return err
		}
		next := high.Int64
		if !high.Valid {
			next = -1
		}
		for _, v := range values {
			next++
			if _, err := tx.ExecContext(ctx, `INSERT INTO recall_list (key, pos, value) VALUES ($1, $2, $3)`, key, next, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	n, err := b.LLen(ctx, key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := listBounds(n, start, stop)
	if !ok {
		return nil, nil
	}
	var out [][]byte
	err = b.db.SelectContext(ctx, &out,
		`SELECT value FROM recall_list WHERE key = $1 ORDER BY pos LIMIT $2 OFFSET $3`, key, hi-lo, lo)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return out, nil
}

func (b *PostgresBackend) LLen(ctx context.Context, key string) (int64, error) {
	if err := purge(ctx, b.db, key); err != nil {
		return 0, err
	}
	var n int64
	if err := b.db.GetContext(ctx, &n, `SELECT count(*) FROM recall_list WHERE key = $1`, key); err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// Expire sets a TTL on an existing key. A non-positive ttl removes it.
func (b *PostgresBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	at := expiresAt(ttl)
	return b.tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE recall_kv SET expires_at = $2 WHERE key = $1`, key, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE recall_list_meta SET expires_at = $2 WHERE key = $1`, key, at)
		return err
	})
}

func (b *PostgresBackend) Close() error { return b.db.Close() }

func (b *PostgresBackend) tx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrWrongType) {
			return err
		}
		return fmt.Errorf("postgres: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
