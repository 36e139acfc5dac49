// Package lock serializes command executions per conversation. A lock id is
// "owner/repo/issueNumber"; its only state is whether an execution is running.
package lock

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/config"
)

// ErrConflict is returned by Acquire when an execution already holds the lock.
var ErrConflict = errors.New("lock: execution already running")

// Store keeps the running flag for each lock id. Acquire is an atomic
// test-and-set: exactly one of any number of concurrent callers observes true.
type Store interface {
	Acquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
	Held(ctx context.Context, id string) (bool, error)
}

// NewStore builds the store selected by cfg.Backend.
func NewStore(cfg config.LockConfig, rdb redis.UniversalClient, db DB) (Store, error) {
	switch cfg.Backend {
	case "", "redis":
		if rdb == nil {
			return nil, fmt.Errorf("lock backend redis: no redis client")
		}
		return NewRedisStore(rdb, cfg.Lease), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("lock backend postgres: no database pool")
		}
		return NewPostgresStore(db, cfg.Lease), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("lock backend http: url is required")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		return NewHTTPClient(cfg.URL, cfg.AuthToken, &http.Client{Timeout: timeout}), nil
	case "memory":
		return NewMemoryStore(cfg.Lease), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
