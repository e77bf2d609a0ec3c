package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
	"github.com/systmms/keyvault2kube/pkg/secret"
)

// ErrCycleFailed is returned by a single-shot run when no source could be listed.
var ErrCycleFailed = errors.New("sync cycle failed")

// RunnerConfig controls the sync loop.
type RunnerConfig struct {
	Interval time.Duration
	// DoneFile is touched after every cycle that was not a total failure.
	// Empty disables it.
	DoneFile string
	Once     bool
	// Notifier, when set, receives the events of every cycle.
	Notifier Notifier
}

// Runner drives the reconciler on a fixed interval.
type Runner struct {
	reconciler *Reconciler
	config     RunnerConfig
	logger     *logging.Logger
	metrics    *metrics.SyncMetrics

	mu   sync.RWMutex
	last *Result
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(reconciler *Reconciler, config RunnerConfig, logger *logging.Logger, m *metrics.SyncMetrics) *Runner {
	return &Runner{
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes cycles until ctx is cancelled. Cancellation is observed only
// between cycles; a cycle in progress runs to completion.
func (r *Runner) Run(ctx context.Context) error {
	if !r.config.Once && r.config.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", r.config.Interval)
	}

	r.logger.Info("Starting sync loop (interval %s)", r.config.Interval)
	for {
		res := r.RunCycle(context.WithoutCancel(ctx))

		if r.config.Once {
			if res.Status() == metrics.StatusFailed {
				return fmt.Errorf("%w: %w", ErrCycleFailed, res.Err())
			}
			return nil
		}

		timer := time.NewTimer(r.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Shutting down sync loop")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle runs one reconciliation and records its outcome.
func (r *Runner) RunCycle(ctx context.Context) *Result {
	res := r.reconciler.Reconcile(ctx)
	status := res.Status()

	r.metrics.RecordCycle(status, res.Duration(), res.Finished)
	r.logger.Info("Sync cycle %s in %s: %d secrets, %d created, %d patched, %d unchanged, %d failed",
		status, res.Duration().Round(time.Millisecond), len(res.Records),
		res.Count(secret.ActionCreate), res.Count(secret.ActionPatch), res.Count(secret.ActionSkip),
		res.Failures())

	if status != metrics.StatusFailed && r.config.DoneFile != "" {
		if err := touch(r.config.DoneFile, res.Finished); err != nil {
			r.logger.Warn("Failed to touch done file %s: %v", r.config.DoneFile, err)
		}
	}

	if r.config.Notifier != nil {
		for _, ev := range Events(res) {
			r.config.Notifier.Notify(ev)
		}
	}

	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
	return res
}

// Last returns the most recent cycle result, or nil before the first cycle.
func (r *Runner) Last() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Health reports an error when the last cycle failed entirely. It is
// healthy before the first cycle finishes.
func (r *Runner) Health() error {
	last := r.Last()
	if last == nil || last.Status() != metrics.StatusFailed {
		return nil
	}
	return fmt.Errorf("last sync cycle at %s failed", last.Finished.Format(time.RFC3339))
}

// touch creates path if needed and sets its modification time.
func touch(path string, at time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, at, at)
}
