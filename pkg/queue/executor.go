package queue

import (
	"context"
	"fmt"

	"github.com/traceline-io/traceline/pkg/models"
)

// Executor processes one claimed job. A returned error counts as a failed
// attempt and schedules a retry; domain outcomes that should not retry must
// be recorded by the executor itself and return nil.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) error
}

// ReplayRunner executes one replay session to completion.
type ReplayRunner interface {
	Execute(ctx context.Context, replaySessionID string) error
}

// ReplayExecutor dispatches replay_execute jobs to the replay engine.
type ReplayExecutor struct {
	runner ReplayRunner
}

// NewReplayExecutor creates the executor for replay_execute jobs.
func NewReplayExecutor(runner ReplayRunner) *ReplayExecutor {
	return &ReplayExecutor{runner: runner}
}

// Execute extracts the replay session from the job payload and runs it.
func (e *ReplayExecutor) Execute(ctx context.Context, job *models.Job) error {
	sessionID, _ := job.Payload["replay_session_id"].(string)
	if sessionID == "" {
		return fmt.Errorf("job %d payload is missing replay_session_id", job.JobID)
	}
	return e.runner.Execute(ctx, sessionID)
}
