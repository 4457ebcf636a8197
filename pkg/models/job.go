package models

import "time"

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobTypeReplayExecute is the only job type the worker currently dispatches.
const JobTypeReplayExecute = "replay_execute"

// DefaultMaxRetries is the retry budget for new jobs.
const DefaultMaxRetries = 5

// Job is one durable queue row. Claiming transitions pending → running
// atomically so at most one worker executes a given job.
type Job struct {
	JobID       int64          `json:"job_id"`
	JobType     string         `json:"job_type"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Retries     int            `json:"retries"`
	MaxRetries  int            `json:"max_retries"`
	LastError   *string        `json:"last_error,omitempty"`
	AvailableAt time.Time      `json:"available_at_utc"`
	CreatedAt   time.Time      `json:"created_at_utc"`
	UpdatedAt   time.Time      `json:"updated_at_utc"`
}
