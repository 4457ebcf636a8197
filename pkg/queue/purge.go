package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/traceline-io/traceline/pkg/store"
)

// Purger periodically deletes completed jobs older than the retention
// window. Deletion is idempotent and safe to run from multiple processes.
type Purger struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPurger creates a purge sweeper. A non-positive retention disables it.
func NewPurger(st store.Store, retention, interval time.Duration) *Purger {
	return &Purger{
		store:     st,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the background purge loop.
func (p *Purger) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	if p.retention <= 0 {
		slog.Info("Job purging disabled")
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx)

	slog.Info("Job purger started",
		"retention", p.retention,
		"interval", p.interval)
}

// Stop signals the purge loop to exit and waits for it to finish.
func (p *Purger) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	slog.Info("Job purger stopped")
}

func (p *Purger) run(ctx context.Context) {
	defer close(p.done)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Purger) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	count, err := p.store.PurgeCompletedJobs(ctx, cutoff)
	if err != nil {
		slog.Error("Job purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Purged completed jobs", "count", count)
	}
}
