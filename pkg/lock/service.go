package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/metrics"
)

// Service acquires and releases leases on behalf of one process
// instance. The holder identity is generated once at construction and
// lives for the life of the process.
type Service struct {
	store    *Store
	logger   logrus.FieldLogger
	holderID string
}

// NewService creates a lock service with a fresh holder identity.
func NewService(store *Store, logger logrus.FieldLogger) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		holderID: uuid.NewString(),
	}
}

// HolderID returns this process's holder identity.
func (s *Service) HolderID() string {
	return s.holderID
}

// Acquire tries to take the lease for key with the given TTL. It reaps
// a stale row first, then inserts with ignore-on-duplicate semantics.
// Contention and unexpected errors both come back as false: better to
// skip a scheduled run than to risk a double run.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration) bool {
	now := time.Now().UTC()
	if err := s.store.ReapExpired(ctx, key, now); err != nil {
		s.logger.WithError(err).WithField("lock_key", key).Warn("Stale lease reap failed, treating lock as held")
		metrics.LockAcquisitions.WithLabelValues(key, "error").Inc()
		return false
	}

	acquired, err := s.store.Insert(ctx, &Lease{
		LockKey:    key,
		HolderID:   s.holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		s.logger.WithError(err).WithField("lock_key", key).Warn("Lease insert failed, treating lock as held")
		metrics.LockAcquisitions.WithLabelValues(key, "error").Inc()
		return false
	}
	if !acquired {
		metrics.LockAcquisitions.WithLabelValues(key, "contended").Inc()
		return false
	}
	metrics.LockAcquisitions.WithLabelValues(key, "acquired").Inc()
	return true
}

// Release gives the lease back. The delete is conditioned on this
// process still being the holder, so releasing after expiry and
// reassignment is a no-op. Errors are logged and swallowed: the lease
// self-expires regardless.
func (s *Service) Release(ctx context.Context, key string) {
	if err := s.store.DeleteHeld(ctx, key, s.holderID); err != nil {
		s.logger.WithError(err).WithField("lock_key", key).Warn("Lease release failed, relying on TTL expiry")
	}
}

// WithLock runs fn while holding the lease for key. If the lease is not
// available it returns ran=false immediately; callers are periodic tasks
// that will try again on their next tick, so there is no retry or
// blocking here. The release always runs, including when fn fails.
//
// The TTL must exceed fn's worst-case runtime. A TTL sized to the tick
// interval instead of the task allows duplicate concurrent execution.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	if !s.Acquire(ctx, key, ttl) {
		return false, nil
	}
	defer s.Release(ctx, key)
	return true, fn(ctx)
}
