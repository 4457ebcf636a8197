// Package store defines the persistence boundary of the recorder and its two
// implementations: postgres for production and an in-memory double for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/traceline-io/traceline/pkg/models"
)

// Sentinel errors raised by store implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdempotencyKey indicates an event insert lost the race on
	// the idempotency_key unique index; the caller should read and return
	// the existing event.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateKey indicates some other unique constraint was violated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNoJobsAvailable indicates no claimable job exists right now.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// RunFilter narrows ListRuns. Zero values mean "no constraint".
type RunFilter struct {
	AppID       string
	Environment string
	Status      string
	SourceType  string
	// From/To bound started_at inclusively.
	From *time.Time
	To   *time.Time
	// StartedBefore is the pagination cursor: started_at strictly before it.
	StartedBefore *time.Time
	// Limit caps the result set; zero means unlimited.
	Limit int
}

// EventFilter narrows ListEvents. Results are always ordered by sequence_no
// ascending.
type EventFilter struct {
	EventType string
	StepID    string
	// SequenceFrom/SequenceTo bound sequence_no inclusively.
	SequenceFrom *int64
	SequenceTo   *int64
	// AfterSequence is the pagination cursor: sequence_no strictly greater.
	AfterSequence *int64
	Limit         int
}

// Store is the persistence interface shared by the API services, the replay
// engine, and the job queue.
type Store interface {
	// WithTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Calling WithTx on a transactional view runs fn in the same
	// transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Runs.
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	// GetRunForUpdate locks the run row until the enclosing transaction
	// ends, serializing concurrent ingests for one run.
	GetRunForUpdate(ctx context.Context, runID string) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string, endedAt *time.Time) error
	ListRuns(ctx context.Context, f RunFilter) ([]*models.Run, error)

	// Steps.
	GetStep(ctx context.Context, stepID string) (*models.Step, error)
	CreateStep(ctx context.Context, step *models.Step) error
	UpdateStep(ctx context.Context, step *models.Step) error

	// Events.
	GetEventByIdempotencyKey(ctx context.Context, key string) (*models.Event, error)
	// MaxSequenceNo returns the highest sequence_no in the run; ok is false
	// when the run has no events yet.
	MaxSequenceNo(ctx context.Context, runID string) (seq int64, ok bool, err error)
	HasTerminalEvent(ctx context.Context, runID string) (bool, error)
	// HasPriorCall reports whether an event of callType exists in the same
	// run and step with sequence_no lower than beforeSeq.
	HasPriorCall(ctx context.Context, runID, stepID, callType string, beforeSeq int64) (bool, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, runID string, f EventFilter) ([]*models.Event, error)
	CountEventsByType(ctx context.Context, runID string) (map[string]int, error)

	// Artifacts.
	GetArtifact(ctx context.Context, hash string) (*models.Artifact, error)
	CreateArtifact(ctx context.Context, artifact *models.Artifact) error
	LinkEventArtifact(ctx context.Context, link *models.EventArtifact) error

	// Replay sessions.
	CreateReplaySession(ctx context.Context, session *models.ReplaySession) error
	GetReplaySession(ctx context.Context, sessionID string) (*models.ReplaySession, error)
	UpdateReplaySession(ctx context.Context, session *models.ReplaySession) error

	// Jobs.
	EnqueueJob(ctx context.Context, job *models.Job) error
	// ClaimNextJob atomically transitions the oldest available pending job
	// to running. jobType "" claims any type. Returns ErrNoJobsAvailable
	// when nothing is claimable.
	ClaimNextJob(ctx context.Context, jobType string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	PurgeCompletedJobs(ctx context.Context, olderThan time.Time) (int64, error)
	// ReclaimStaleJobs requeues running jobs not touched since olderThan,
	// recovering work stranded by a crashed worker.
	ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// Audit.
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}
