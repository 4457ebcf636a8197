package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  int64        `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// Worker polls the job table and dispatches claimed jobs to the executor
// registered for their type. Claims go through FOR UPDATE SKIP LOCKED in the
// postgres store, so running several workers against one database is safe.
type Worker struct {
	id           string
	store        store.Store
	executors    map[string]Executor
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  int64
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker with the given executor registry, keyed by
// job type. Jobs whose type has no executor fail their attempt and retry.
func NewWorker(id string, st store.Store, executors map[string]Executor, pollInterval time.Duration) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		executors:    executors,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the in-flight job to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started", "poll_interval", w.pollInterval)

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.processOne(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobsAvailable) {
					w.sleep(w.pollInterval)
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// processOne claims the next available job and runs it to a terminal mark.
// Execution errors are recorded on the job, not returned: the returned error
// signals claim or bookkeeping failures only.
func (w *Worker) processOne(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, "")
	if err != nil {
		if errors.Is(err, store.ErrNoJobsAvailable) {
			return err
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	log := slog.With("job_id", job.JobID, "job_type", job.JobType, "worker_id", w.id)
	log.Info("Job claimed", "retries", job.Retries)

	w.setStatus(WorkerStatusWorking, job.JobID)
	defer w.setStatus(WorkerStatusIdle, 0)

	execErr := w.dispatch(ctx, job)

	if execErr != nil {
		log.Error("Job execution failed", "error", execErr)
		if err := markJobFailure(ctx, w.store, job, execErr.Error()); err != nil {
			return err
		}
		log.Info("Job attempt recorded", "status", job.Status, "retries", job.Retries)
	} else {
		if err := markJobSuccess(ctx, w.store, job); err != nil {
			return err
		}
		log.Info("Job completed")
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	return nil
}

func (w *Worker) dispatch(ctx context.Context, job *models.Job) error {
	executor, ok := w.executors[job.JobType]
	if !ok {
		return fmt.Errorf("unsupported job type: %s", job.JobType)
	}
	return executor.Execute(ctx, job)
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
