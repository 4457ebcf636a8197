package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/traceline-io/traceline/pkg/store"
)

// Reclaimer periodically requeues running jobs whose updated_at has gone
// stale, recovering work stranded by a crashed worker. All processes run the
// sweep independently; requeueing an already-requeued job is a no-op.
type Reclaimer struct {
	store     store.Store
	threshold time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReclaimer creates a stale-job sweeper. A non-positive threshold
// disables it.
func NewReclaimer(st store.Store, threshold, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		store:     st,
		threshold: threshold,
		interval:  interval,
	}
}

// Start launches the background reclaim loop.
func (r *Reclaimer) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	if r.threshold <= 0 {
		slog.Info("Stale job reclamation disabled")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	slog.Info("Job reclaimer started",
		"threshold", r.threshold,
		"interval", r.interval)
}

// Stop signals the reclaim loop to exit and waits for it to finish.
func (r *Reclaimer) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Job reclaimer stopped")
}

func (r *Reclaimer) run(ctx context.Context) {
	defer close(r.done)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reclaimer) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.threshold)
	count, err := r.store.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		slog.Error("Stale job reclaim failed", "error", err)
		return
	}
	if count > 0 {
		slog.Warn("Requeued stale jobs", "count", count, "threshold", r.threshold)
	}
}
