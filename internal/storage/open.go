package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/user/recall/internal/config"
	"github.com/user/recall/internal/types"
)

// Open builds the backend named by cfg.Storage.Type. Network backends are
// wrapped with retries when cfg.Storage.RetryAttempts is above one.
func Open(ctx context.Context, cfg *config.Config) (types.Backend, error) {
	var (
		b   types.Backend
		err error
	)
	switch cfg.Storage.Type {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		dir := cfg.Storage.Path
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "sessions")
		}
		return NewFileBackend(dir)
	case "redis":
		b, err = DialRedis(ctx, cfg.Storage.Redis.URL, cfg.Storage.Redis.Password, WithPrefix(cfg.Storage.Redis.Prefix))
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return nil, fmt.Errorf("storage.postgres.dsn is required for postgres storage")
		}
		b, err = OpenPostgres(ctx, cfg.Storage.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Storage.RetryAttempts > 1 {
		policy := DefaultRetryPolicy()
		policy.MaxAttempts = cfg.Storage.RetryAttempts
		return WithRetry(b, policy), nil
	}
	return b, nil
}
