// Package keyvalue wraps the Redis client behind the narrow contract the
// cache layer needs. Every operation fails open: a transport error is
// reported as a miss or a dropped write, never as an error the caller has
// to handle. The cache is an optimization, not a dependency.
package keyvalue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/metrics"
)

const (
	// scanPageSize bounds each SCAN round-trip so a pattern delete never
	// blocks the store the way a bare KEYS call would.
	scanPageSize = 200

	// deleteBatchSize bounds the number of keys per DEL command.
	deleteBatchSize = 128
)

// Config holds the Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Store is the thin key-value wrapper. It holds no in-process state
// beyond the transport handle.
type Store struct {
	client *redis.Client
	logger logrus.FieldLogger
}

// NewStore connects a Store to the Redis instance described by cfg.
func NewStore(cfg Config, logger logrus.FieldLogger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewStoreWithClient(client, logger)
}

// NewStoreWithClient wraps an existing client. Used by the composition
// root and by tests that supply their own client.
func NewStoreWithClient(client *redis.Client, logger logrus.FieldLogger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Client exposes the underlying Redis client for health checks.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping reports whether the backing store is reachable. This is the one
// place a transport error surfaces; it feeds the health endpoint only.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the value for key and whether it was present. Transport
// errors are logged and reported as absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
			return "", false
		}
		s.logger.WithError(err).WithField("key", key).Warn("Cache get failed, treating as miss")
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return "", false
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return value, true
}

// Set stores value under key with the given TTL. A non-positive TTL is
// refused so no key can become permanent by accident. Transport errors
// are logged and the write is dropped.
func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if ttl <= 0 {
		s.logger.WithField("key", key).Warn("Cache set without TTL refused")
		metrics.CacheOperations.WithLabelValues("set", "dropped").Inc()
		return
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache set failed, dropping write")
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return
	}
	metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
}

// Delete removes key. Transport errors are logged and swallowed; the key
// will expire on its own.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache delete failed")
		metrics.CacheOperations.WithLabelValues("delete", "error").Inc()
		return
	}
	metrics.CacheOperations.WithLabelValues("delete", "ok").Inc()
}

// DeletePattern removes every key matching the glob pattern. Keys are
// enumerated with a paginated SCAN and removed in bounded batches.
func (s *Store) DeletePattern(ctx context.Context, pattern string) {
	var (
		cursor  uint64
		batch   []string
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			s.logger.WithError(err).WithField("pattern", pattern).Warn("Cache pattern scan failed")
			metrics.CacheOperations.WithLabelValues("delete_pattern", "error").Inc()
			return
		}
		batch = append(batch, keys...)
		for len(batch) >= deleteBatchSize {
			removed += s.deleteBatch(ctx, pattern, batch[:deleteBatchSize])
			batch = batch[deleteBatchSize:]
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(batch) > 0 {
		removed += s.deleteBatch(ctx, pattern, batch)
	}
	s.logger.WithFields(logrus.Fields{
		"pattern": pattern,
		"removed": removed,
	}).Debug("Cache pattern delete completed")
	metrics.CacheOperations.WithLabelValues("delete_pattern", "ok").Inc()
}

func (s *Store) deleteBatch(ctx context.Context, pattern string, keys []string) int {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.WithError(err).WithField("pattern", pattern).Warn("Cache batch delete failed")
		return 0
	}
	return len(keys)
}
