// Package kv is the string key-value contract the race history persists
// through, with redis, postgres and in-memory backends.
package kv

import (
	"context"
	"errors"
	"fmt"

	"backend-karttracker/internal/config"
	"backend-karttracker/internal/db"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	// Get reports ok=false for a missing key; err is reserved for backend
	// failures.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var ErrBackendUnavailable = errors.New("kv backend unavailable")

// Open picks the backend named by HISTORY_BACKEND. The postgres backend
// creates its table on first use.
func Open(ctx context.Context, cfg config.Config, pg db.Querier, rdb *redis.Client) (Store, error) {
	switch cfg.HistoryBackend {
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("%w: redis not configured", ErrBackendUnavailable)
		}
		return NewRedisStore(rdb), nil
	case BackendPostgres:
		if pg == nil {
			return nil, fmt.Errorf("%w: postgres not configured", ErrBackendUnavailable)
		}
		s := NewPostgresStore(pg)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, cfg.HistoryBackend)
	}
}
