// Package scheduler fires registered tasks on fixed intervals and wraps
// every firing in the distributed lock, so each tick window executes a
// task body on at most one instance of the fleet. It carries no business
// logic of its own.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/lock"
	"github.com/ice-blockpad/buzznob-sub000/pkg/metrics"
)

// TaskFunc is a task body supplied by the embedding application.
type TaskFunc func(ctx context.Context) error

// Task binds a body to its schedule. Name doubles as the lock key, so
// it must be unique fleet-wide. LockTTL must exceed the body's
// worst-case runtime, not the interval.
type Task struct {
	Name     string
	Interval time.Duration
	LockTTL  time.Duration
	Run      TaskFunc
}

// TaskConfig is the config-file shape of a task schedule; the body is
// resolved by name from the registry the application passes in.
type TaskConfig struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Runner owns one goroutine per task and a process-local ticker each.
// There is no central scheduler; coordination happens entirely through
// the lock table.
type Runner struct {
	locks  *lock.Service
	logger logrus.FieldLogger

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a Runner on top of the lock service.
func NewRunner(locks *lock.Service, logger logrus.FieldLogger) *Runner {
	return &Runner{
		locks:  locks,
		logger: logger,
	}
}

// Register adds a task. Must be called before Start.
func (r *Runner) Register(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("scheduler: task name is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("scheduler: task %q needs a positive interval", task.Name)
	}
	if task.LockTTL <= 0 {
		return fmt.Errorf("scheduler: task %q needs a positive lock TTL", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("scheduler: task %q has no body", task.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("scheduler: cannot register %q after start", task.Name)
	}
	for _, existing := range r.tasks {
		if existing.Name == task.Name {
			return fmt.Errorf("scheduler: task %q already registered", task.Name)
		}
	}
	r.tasks = append(r.tasks, task)
	return nil
}

// RegisterFromConfig decodes raw schedule entries (as viper hands them
// over) and binds each to a body from the registry. An entry naming an
// unknown body is a deployment mistake and fails loudly.
func (r *Runner) RegisterFromConfig(raw []map[string]interface{}, bodies map[string]TaskFunc) error {
	for _, entry := range raw {
		var cfg TaskConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
			Result:     &cfg,
		})
		if err != nil {
			return fmt.Errorf("scheduler: building task decoder: %w", err)
		}
		if err := decoder.Decode(entry); err != nil {
			return fmt.Errorf("scheduler: decoding task config: %w", err)
		}
		body, ok := bodies[cfg.Name]
		if !ok {
			return fmt.Errorf("scheduler: no body registered for task %q", cfg.Name)
		}
		if err := r.Register(Task{
			Name:     cfg.Name,
			Interval: cfg.Interval,
			LockTTL:  cfg.LockTTL,
			Run:      body,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start launches one ticker goroutine per registered task.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, task := range r.tasks {
		r.wg.Add(1)
		go r.loop(runCtx, task)
	}
	r.logger.WithField("tasks", len(r.tasks)).Info("Scheduler started")
}

// Stop cancels all task loops and waits for in-flight bodies to return.
// A running body is never interrupted; its lease release (or expiry)
// frees the lock for the next window.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("Scheduler stopped")
}

func (r *Runner) loop(ctx context.Context, task Task) {
	defer r.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(ctx, task)
		}
	}
}

// fire executes one tick: take the lease or skip this window.
func (r *Runner) fire(ctx context.Context, task Task) {
	start := time.Now()
	ran, err := r.locks.WithLock(ctx, task.Name, task.LockTTL, task.Run)
	switch {
	case !ran:
		metrics.ScheduledRuns.WithLabelValues(task.Name, "skipped").Inc()
		r.logger.WithField("task", task.Name).Debug("Tick skipped, lease held elsewhere")
	case err != nil:
		metrics.ScheduledRuns.WithLabelValues(task.Name, "error").Inc()
		r.logger.WithError(err).WithField("task", task.Name).Error("Scheduled task failed")
	default:
		metrics.ScheduledRuns.WithLabelValues(task.Name, "ran").Inc()
		metrics.ScheduledRunDuration.WithLabelValues(task.Name).
			Observe(float64(time.Since(start).Milliseconds()))
		r.logger.WithFields(logrus.Fields{
			"task":     task.Name,
			"duration": time.Since(start).String(),
		}).Debug("Scheduled task completed")
	}
}
