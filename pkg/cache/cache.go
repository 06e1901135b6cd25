// Package cache is the read-through/write-through façade in front of the
// system-of-record store. It owns serialization and the two freshness
// helpers; the transport (and its fail-open behavior) lives in keyvalue.
package cache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/keyvalue"
)

// FetchFunc computes a fresh value from the source of truth. A nil
// result with a nil error means "nothing to cache".
type FetchFunc func(ctx context.Context) (interface{}, error)

// Facade adds JSON serialization, GetOrSet and WriteThrough on top of
// the key-value store.
type Facade struct {
	store      *keyvalue.Store
	logger     logrus.FieldLogger
	defaultTTL time.Duration
}

// New creates a Facade. defaultTTL is applied whenever a caller passes a
// non-positive TTL, so no entry is ever stored without an expiry.
func New(store *keyvalue.Store, logger logrus.FieldLogger, defaultTTL time.Duration) *Facade {
	return &Facade{
		store:      store,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// GetOrSet returns the cached value for key, unmarshaled into dest. On a
// miss it calls fetch, stores a non-nil result, and fills dest from it.
// A fetch error propagates unchanged: the cache never substitutes for
// the source of truth. found reports whether dest was populated.
func (f *Facade) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetch FetchFunc) (found bool, err error) {
	if data, ok := f.store.Get(ctx, key); ok {
		if err := sonic.Unmarshal([]byte(data), dest); err == nil {
			return true, nil
		}
		// A payload we cannot decode is a miss; drop it so the next
		// reader does not trip over it again.
		f.logger.WithField("key", key).Warn("Undecodable cache payload, evicting")
		f.store.Delete(ctx, key)
	}

	value, err := fetch(ctx)
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}

	data, merr := sonic.Marshal(value)
	if merr != nil {
		// Serialization failure is a failed write: swallowed, and the
		// fetched value is still handed back.
		f.logger.WithError(merr).WithField("key", key).Warn("Cache marshal failed, skipping store")
		return true, assign(dest, value)
	}
	f.store.Set(ctx, key, string(data), f.ttlOrDefault(ttl))
	// Roundtrip through the serialized form so hit and miss paths hand
	// the caller an identical shape.
	return true, sonic.Unmarshal(data, dest)
}

// WriteThrough refreshes key with the result of fresh, overwriting in
// place so there is no window where the key is absent. If fresh fails,
// the key is deleted instead: the next reader recomputes via GetOrSet
// and staleness stays bounded by the TTL.
func (f *Facade) WriteThrough(ctx context.Context, key string, ttl time.Duration, fresh FetchFunc) error {
	value, err := fresh(ctx)
	if err != nil {
		f.logger.WithError(err).WithField("key", key).Warn("Refresh failed, falling back to delete")
		f.store.Delete(ctx, key)
		return err
	}
	if value == nil {
		f.store.Delete(ctx, key)
		return nil
	}
	data, err := sonic.Marshal(value)
	if err != nil {
		f.logger.WithError(err).WithField("key", key).Warn("Refresh marshal failed, falling back to delete")
		f.store.Delete(ctx, key)
		return nil
	}
	f.store.Set(ctx, key, string(data), f.ttlOrDefault(ttl))
	return nil
}

// Set stores value under key directly, bypassing the fetch callback.
func (f *Facade) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := sonic.Marshal(value)
	if err != nil {
		f.logger.WithError(err).WithField("key", key).Warn("Cache marshal failed, skipping store")
		return
	}
	f.store.Set(ctx, key, string(data), f.ttlOrDefault(ttl))
}

// Delete removes a single key.
func (f *Facade) Delete(ctx context.Context, key string) {
	f.store.Delete(ctx, key)
}

// DeletePattern removes every key matching the glob pattern.
func (f *Facade) DeletePattern(ctx context.Context, pattern string) {
	f.store.DeletePattern(ctx, pattern)
}

func (f *Facade) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return f.defaultTTL
	}
	return ttl
}

// assign copies value into the pointer dest without going through the
// serialized form. Used only when serialization is unavailable.
func assign(dest interface{}, value interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("cache: dest must be a non-nil pointer")
	}
	sv := reflect.ValueOf(value)
	if sv.Kind() == reflect.Ptr && sv.Type() != dv.Elem().Type() {
		sv = sv.Elem()
	}
	if !sv.Type().AssignableTo(dv.Elem().Type()) {
		return fmt.Errorf("cache: cannot assign %T to %T", value, dest)
	}
	dv.Elem().Set(sv)
	return nil
}
