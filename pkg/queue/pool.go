package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/traceline-io/traceline/pkg/store"
)

// PoolHealth is a snapshot of the pool and its workers.
type PoolHealth struct {
	BaseID        string         `json:"base_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	JobsProcessed int            `json:"jobs_processed"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// Pool runs a fixed set of workers over one executor registry. Workers
// coordinate purely through the job table, so several pools across processes
// are safe against each other.
type Pool struct {
	baseID  string
	workers []*Worker
}

// NewPool creates count workers named "<baseID>-0" … "<baseID>-N-1". A count
// below one is raised to one.
func NewPool(baseID string, st store.Store, executors map[string]Executor, pollInterval time.Duration, count int) *Pool {
	if count < 1 {
		count = 1
	}
	workers := make([]*Worker, 0, count)
	for i := 0; i < count; i++ {
		workers = append(workers, NewWorker(fmt.Sprintf("%s-%d", baseID, i), st, executors, pollInterval))
	}
	return &Pool{baseID: baseID, workers: workers}
}

// Start launches every worker's polling loop.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("Starting worker pool",
		"base_id", p.baseID,
		"worker_count", len(p.workers))
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

// Stop signals all workers and waits for their in-flight jobs to finish.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool", "base_id", p.baseID)
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped", "jobs_processed", p.Health().JobsProcessed)
}

// Health aggregates the per-worker snapshots.
func (p *Pool) Health() PoolHealth {
	stats := make([]WorkerHealth, 0, len(p.workers))
	active := 0
	processed := 0
	for _, w := range p.workers {
		h := w.Health()
		stats = append(stats, h)
		if h.Status == WorkerStatusWorking {
			active++
		}
		processed += h.JobsProcessed
	}
	return PoolHealth{
		BaseID:        p.baseID,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		JobsProcessed: processed,
		WorkerStats:   stats,
	}
}
