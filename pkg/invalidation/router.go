// Package invalidation maps domain mutation events to the cache keys
// they dirty. Hot single-entity keys are refreshed in place
// (write-through, no stale-read window); fan-out listing caches are
// dropped by pattern and rebuilt lazily on the next read.
package invalidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/cache"
	"github.com/ice-blockpad/buzznob-sub000/pkg/metrics"
)

// Args carries the event parameters a route needs to resolve its keys,
// e.g. {"user_id": "u-42"}.
type Args map[string]string

// Refresh names one exact cache key affected by an event. When Fresh is
// nil the key is deleted instead of recomputed.
type Refresh struct {
	Key   string
	TTL   time.Duration
	Fresh cache.FetchFunc
}

// Route resolves an event occurrence into the exact keys to refresh and
// the key patterns to delete outright.
type Route func(args Args) (refreshes []Refresh, patterns []string)

// Router dispatches mutation events to their registered routes. Every
// refresh and pattern delete runs synchronously in the mutation path,
// each independently guarded so one failure never blocks its siblings
// or the mutation response.
type Router struct {
	facade *cache.Facade
	logger logrus.FieldLogger

	mu     sync.RWMutex
	routes map[string]Route
}

// NewRouter creates an empty Router on top of the cache façade.
func NewRouter(facade *cache.Facade, logger logrus.FieldLogger) *Router {
	return &Router{
		facade: facade,
		logger: logger,
		routes: make(map[string]Route),
	}
}

// Register binds an event name to a route. Registering the same event
// twice is a programming error and is rejected.
func (r *Router) Register(event string, route Route) error {
	if route == nil {
		return fmt.Errorf("invalidation: route for %q is nil", event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[event]; exists {
		return fmt.Errorf("invalidation: event %q already registered", event)
	}
	r.routes[event] = route
	return nil
}

// Events lists the registered event names.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]string, 0, len(r.routes))
	for event := range r.routes {
		events = append(events, event)
	}
	return events
}

// Trigger runs the route registered for event. The only returned error
// is "unknown event"; refresh failures are logged, counted, and
// isolated per key so the triggering mutation always completes.
func (r *Router) Trigger(ctx context.Context, event string, args Args) error {
	r.mu.RLock()
	route, ok := r.routes[event]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("invalidation: unknown event %q", event)
	}

	refreshes, patterns := route(args)
	failed := 0
	for _, refresh := range refreshes {
		if err := r.runOne(ctx, event, refresh); err != nil {
			failed++
		}
	}
	for _, pattern := range patterns {
		r.facade.DeletePattern(ctx, pattern)
	}

	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	metrics.InvalidationRuns.WithLabelValues(event, result).Inc()
	r.logger.WithFields(logrus.Fields{
		"event":    event,
		"keys":     len(refreshes),
		"patterns": len(patterns),
		"failed":   failed,
	}).Debug("Invalidation routes executed")
	return nil
}

// runOne refreshes or deletes a single key. The write-through fallback
// already deletes the key on refresh failure, so the TTL bounds
// staleness either way; the error is reported only for accounting.
func (r *Router) runOne(ctx context.Context, event string, refresh Refresh) error {
	if refresh.Fresh == nil {
		r.facade.Delete(ctx, refresh.Key)
		return nil
	}
	if err := r.facade.WriteThrough(ctx, refresh.Key, refresh.TTL, refresh.Fresh); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event": event,
			"key":   refresh.Key,
		}).Warn("Cache refresh failed, key invalidated instead")
		return err
	}
	return nil
}
