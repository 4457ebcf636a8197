// Package queue provides the durable job queue worker: claiming, executor
// dispatch, retry backoff, and completed-job purging.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// maxBackoffExponent caps the retry backoff at 2^6 = 64 seconds.
const maxBackoffExponent = 6

// backoffDelay returns the delay before a job that has failed retries times
// becomes claimable again.
func backoffDelay(retries int) time.Duration {
	exp := retries
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return time.Duration(1<<exp) * time.Second
}

// markJobSuccess transitions a running job to completed.
func markJobSuccess(ctx context.Context, st store.Store, job *models.Job) error {
	job.Status = models.JobCompleted
	job.UpdatedAt = time.Now().UTC()
	if err := st.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %d completed: %w", job.JobID, err)
	}
	return nil
}

// markJobFailure records a failed attempt. The job goes back to pending with
// exponential backoff until its retry budget is exhausted, then to failed.
func markJobFailure(ctx context.Context, st store.Store, job *models.Job, errMsg string) error {
	now := time.Now().UTC()
	job.Retries++
	job.LastError = &errMsg
	job.UpdatedAt = now
	if job.Retries >= job.MaxRetries {
		job.Status = models.JobFailed
	} else {
		job.Status = models.JobPending
		job.AvailableAt = now.Add(backoffDelay(job.Retries))
	}
	if err := st.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", job.JobID, err)
	}
	return nil
}
