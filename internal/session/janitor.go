package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor runs the recurring expiry sweep. It invokes the same SweepExpired
// the administrative surface calls, on a fixed interval, and never crashes
// the process on a failed sweep: failures are logged and the next tick
// retries.
type Janitor struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger
	cron     *cron.Cron
}

// NewJanitor schedules a sweep of store every interval. The scheduler
// rounds intervals shorter than a second up to one second.
func NewJanitor(store *Store, interval time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	j := &Janitor{
		store:    store,
		interval: interval,
		log:      log,
		cron:     cron.New(),
	}
	j.cron.Schedule(cron.Every(interval), cron.FuncJob(j.sweep))
	return j
}

// Start launches the schedule. The first sweep fires one interval from now.
func (j *Janitor) Start() {
	j.log.Info("session janitor started", "interval", j.interval)
	j.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish, or
// for ctx to expire. No new sweep starts after Stop returns.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.log.Info("session janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep runs one expiry pass on a background context, so shutdown waits
// for the pass instead of cancelling it halfway.
func (j *Janitor) sweep() {
	removed, err := j.store.SweepExpired(context.Background())
	if err != nil {
		j.log.Error("session sweep failed", "error", err)
		return
	}
	j.log.Debug("session sweep finished", "removed", removed)
}
