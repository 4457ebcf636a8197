package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traceline-io/traceline/pkg/models"
)

// uniqueViolation is the postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, letting
// the same query methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db querier
}

// NewPostgres wraps a connection pool in the Store interface.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (p *Postgres) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if _, ok := p.db.(pgx.Tx); ok {
		return fn(p)
	}
	pool, ok := p.db.(*pgxpool.Pool)
	if !ok {
		return fmt.Errorf("store: unsupported querier %T", p.db)
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Postgres{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapUniqueViolation converts unique constraint failures into sentinel
// errors; everything else passes through unchanged.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "uq_events_idempotency_key" {
			return ErrDuplicateIdempotencyKey
		}
		return ErrDuplicateKey
	}
	return err
}

func marshalObject(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func marshalArray(v []string) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

const runColumns = `run_id, trace_id, app_id, environment, status, started_at_utc, ended_at_utc,
	source_type, source_run_id, tags, retention_class, legal_hold`

func scanRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var tags []byte
	err := row.Scan(
		&run.RunID, &run.TraceID, &run.AppID, &run.Environment, &run.Status,
		&run.StartedAt, &run.EndedAt, &run.SourceType, &run.SourceRunID,
		&tags, &run.RetentionClass, &run.LegalHold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(tags, &run.Tags); err != nil {
		return nil, fmt.Errorf("decode run tags: %w", err)
	}
	return &run, nil
}

func (p *Postgres) CreateRun(ctx context.Context, run *models.Run) error {
	tags, err := marshalObject(run.Tags)
	if err != nil {
		return fmt.Errorf("encode run tags: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO runs (run_id, trace_id, app_id, environment, status, started_at_utc, ended_at_utc,
			source_type, source_run_id, tags, retention_class, legal_hold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.RunID, run.TraceID, run.AppID, run.Environment, run.Status, run.StartedAt, run.EndedAt,
		run.SourceType, run.SourceRunID, tags, run.RetentionClass, run.LegalHold,
	)
	return mapUniqueViolation(err)
}

func (p *Postgres) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := p.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

func (p *Postgres) GetRunForUpdate(ctx context.Context, runID string) (*models.Run, error) {
	row := p.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1 FOR UPDATE`, runID)
	return scanRun(row)
}

func (p *Postgres) UpdateRunStatus(ctx context.Context, runID, status string, endedAt *time.Time) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE runs SET status = $2, ended_at_utc = $3 WHERE run_id = $1`,
		runID, status, endedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListRuns(ctx context.Context, f RunFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conds []string
	var args []any
	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if f.AppID != "" {
		add("app_id = $%d", f.AppID)
	}
	if f.Environment != "" {
		add("environment = $%d", f.Environment)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.SourceType != "" {
		add("source_type = $%d", f.SourceType)
	}
	if f.From != nil {
		add("started_at_utc >= $%d", *f.From)
	}
	if f.To != nil {
		add("started_at_utc <= $%d", *f.To)
	}
	if f.StartedBefore != nil {
		add("started_at_utc < $%d", *f.StartedBefore)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at_utc DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const stepColumns = `step_id, run_id, parent_step_id, sequence_no, step_type, determinism_mode,
	started_at_utc, ended_at_utc`

func scanStep(row pgx.Row) (*models.Step, error) {
	var step models.Step
	err := row.Scan(
		&step.StepID, &step.RunID, &step.ParentStepID, &step.SequenceNo,
		&step.StepType, &step.DeterminismMode, &step.StartedAt, &step.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

func (p *Postgres) GetStep(ctx context.Context, stepID string) (*models.Step, error) {
	row := p.db.QueryRow(ctx, `SELECT `+stepColumns+` FROM steps WHERE step_id = $1`, stepID)
	return scanStep(row)
}

func (p *Postgres) CreateStep(ctx context.Context, step *models.Step) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO steps (step_id, run_id, parent_step_id, sequence_no, step_type, determinism_mode,
			started_at_utc, ended_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		step.StepID, step.RunID, step.ParentStepID, step.SequenceNo, step.StepType,
		step.DeterminismMode, step.StartedAt, step.EndedAt,
	)
	return mapUniqueViolation(err)
}

func (p *Postgres) UpdateStep(ctx context.Context, step *models.Step) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE steps SET sequence_no = $2, determinism_mode = $3, ended_at_utc = $4
		WHERE step_id = $1`,
		step.StepID, step.SequenceNo, step.DeterminismMode, step.EndedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const eventColumns = `event_id, run_id, step_id, parent_step_id, sequence_no, event_type,
	schema_version, payload, redaction_status, idempotency_key, timestamp_utc, created_at_utc,
	actor_type, determinism_mode, artifact_pending`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	var payload []byte
	err := row.Scan(
		&event.EventID, &event.RunID, &event.StepID, &event.ParentStepID, &event.SequenceNo,
		&event.EventType, &event.SchemaVersion, &payload, &event.RedactionStatus,
		&event.IdempotencyKey, &event.Timestamp, &event.CreatedAt, &event.ActorType,
		&event.DeterminismMode, &event.ArtifactPending,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &event.Payload); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return &event, nil
}

func (p *Postgres) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE idempotency_key = $1`, key)
	return scanEvent(row)
}

func (p *Postgres) MaxSequenceNo(ctx context.Context, runID string) (int64, bool, error) {
	var max *int64
	err := p.db.QueryRow(ctx,
		`SELECT MAX(sequence_no) FROM events WHERE run_id = $1`, runID).Scan(&max)
	if err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

func (p *Postgres) HasTerminalEvent(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE run_id = $1 AND event_type IN ('run_completed', 'run_failed')
		)`, runID).Scan(&exists)
	return exists, err
}

func (p *Postgres) HasPriorCall(ctx context.Context, runID, stepID, callType string, beforeSeq int64) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE run_id = $1 AND step_id = $2 AND event_type = $3 AND sequence_no < $4
		)`, runID, stepID, callType, beforeSeq).Scan(&exists)
	return exists, err
}

func (p *Postgres) CreateEvent(ctx context.Context, event *models.Event) error {
	payload, err := marshalObject(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO events (event_id, run_id, step_id, parent_step_id, sequence_no, event_type,
			schema_version, payload, redaction_status, idempotency_key, timestamp_utc, created_at_utc,
			actor_type, determinism_mode, artifact_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		event.EventID, event.RunID, event.StepID, event.ParentStepID, event.SequenceNo,
		event.EventType, event.SchemaVersion, payload, event.RedactionStatus,
		event.IdempotencyKey, event.Timestamp, event.CreatedAt, event.ActorType,
		event.DeterminismMode, event.ArtifactPending,
	)
	return mapUniqueViolation(err)
}

func (p *Postgres) ListEvents(ctx context.Context, runID string, f EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	conds := []string{"run_id = $1"}
	args := []any{runID}
	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.StepID != "" {
		add("step_id = $%d", f.StepID)
	}
	if f.SequenceFrom != nil {
		add("sequence_no >= $%d", *f.SequenceFrom)
	}
	if f.SequenceTo != nil {
		add("sequence_no <= $%d", *f.SequenceTo)
	}
	if f.AfterSequence != nil {
		add("sequence_no > $%d", *f.AfterSequence)
	}
	query += " WHERE " + strings.Join(conds, " AND ") + " ORDER BY sequence_no ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *Postgres) CountEventsByType(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := p.db.Query(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE run_id = $1 GROUP BY event_type`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

const artifactColumns = `artifact_hash, artifact_type, byte_size, mime_type, content_encoding,
	redaction_profile, storage_bucket, storage_object_key, retention_class, status,
	hash_algorithm, blocked_reason, created_at_utc`

func scanArtifact(row pgx.Row) (*models.Artifact, error) {
	var artifact models.Artifact
	err := row.Scan(
		&artifact.ArtifactHash, &artifact.ArtifactType, &artifact.ByteSize, &artifact.MimeType,
		&artifact.ContentEncoding, &artifact.RedactionProfile, &artifact.StorageBucket,
		&artifact.StorageObjectKey, &artifact.RetentionClass, &artifact.Status,
		&artifact.HashAlgorithm, &artifact.BlockedReason, &artifact.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

func (p *Postgres) GetArtifact(ctx context.Context, hash string) (*models.Artifact, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_hash = $1`, hash)
	return scanArtifact(row)
}

func (p *Postgres) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO artifacts (artifact_hash, artifact_type, byte_size, mime_type, content_encoding,
			redaction_profile, storage_bucket, storage_object_key, retention_class, status,
			hash_algorithm, blocked_reason, created_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		artifact.ArtifactHash, artifact.ArtifactType, artifact.ByteSize, artifact.MimeType,
		artifact.ContentEncoding, artifact.RedactionProfile, artifact.StorageBucket,
		artifact.StorageObjectKey, artifact.RetentionClass, artifact.Status,
		artifact.HashAlgorithm, artifact.BlockedReason, artifact.CreatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *Postgres) LinkEventArtifact(ctx context.Context, link *models.EventArtifact) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO event_artifacts (event_id, artifact_hash, reference_role)
		VALUES ($1, $2, $3)`,
		link.EventID, link.ArtifactHash, link.ReferenceRole,
	)
	return mapUniqueViolation(err)
}

const replaySessionColumns = `replay_session_id, source_run_id, fork_step_id, override_profile,
	status, started_at_utc, ended_at_utc, failure_reason_code, derived_run_id, reason_codes,
	cancel_requested`

func scanReplaySession(row pgx.Row) (*models.ReplaySession, error) {
	var session models.ReplaySession
	var profile, reasonCodes []byte
	err := row.Scan(
		&session.ReplaySessionID, &session.SourceRunID, &session.ForkStepID, &profile,
		&session.Status, &session.StartedAt, &session.EndedAt, &session.FailureReasonCode,
		&session.DerivedRunID, &reasonCodes, &session.CancelRequested,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(profile, &session.OverrideProfile); err != nil {
		return nil, fmt.Errorf("decode override profile: %w", err)
	}
	if err := json.Unmarshal(reasonCodes, &session.ReasonCodes); err != nil {
		return nil, fmt.Errorf("decode reason codes: %w", err)
	}
	return &session, nil
}

func (p *Postgres) CreateReplaySession(ctx context.Context, session *models.ReplaySession) error {
	profile, err := json.Marshal(session.OverrideProfile)
	if err != nil {
		return fmt.Errorf("encode override profile: %w", err)
	}
	reasonCodes, err := marshalArray(session.ReasonCodes)
	if err != nil {
		return fmt.Errorf("encode reason codes: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO replay_sessions (replay_session_id, source_run_id, fork_step_id, override_profile,
			status, started_at_utc, ended_at_utc, failure_reason_code, derived_run_id, reason_codes,
			cancel_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ReplaySessionID, session.SourceRunID, session.ForkStepID, profile,
		session.Status, session.StartedAt, session.EndedAt, session.FailureReasonCode,
		session.DerivedRunID, reasonCodes, session.CancelRequested,
	)
	return mapUniqueViolation(err)
}

func (p *Postgres) GetReplaySession(ctx context.Context, sessionID string) (*models.ReplaySession, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+replaySessionColumns+` FROM replay_sessions WHERE replay_session_id = $1`, sessionID)
	return scanReplaySession(row)
}

func (p *Postgres) UpdateReplaySession(ctx context.Context, session *models.ReplaySession) error {
	reasonCodes, err := marshalArray(session.ReasonCodes)
	if err != nil {
		return fmt.Errorf("encode reason codes: %w", err)
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE replay_sessions
		SET status = $2, ended_at_utc = $3, failure_reason_code = $4, derived_run_id = $5,
			reason_codes = $6, cancel_requested = $7
		WHERE replay_session_id = $1`,
		session.ReplaySessionID, session.Status, session.EndedAt, session.FailureReasonCode,
		session.DerivedRunID, reasonCodes, session.CancelRequested,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const jobColumns = `job_id, job_type, payload, status, retries, max_retries, last_error,
	available_at_utc, created_at_utc, updated_at_utc`

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var payload []byte
	err := row.Scan(
		&job.JobID, &job.JobType, &payload, &job.Status, &job.Retries, &job.MaxRetries,
		&job.LastError, &job.AvailableAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}

func (p *Postgres) EnqueueJob(ctx context.Context, job *models.Job) error {
	payload, err := marshalObject(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	err = p.db.QueryRow(ctx, `
		INSERT INTO jobs (job_type, payload, status, retries, max_retries, last_error,
			available_at_utc, created_at_utc, updated_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING job_id`,
		job.JobType, payload, job.Status, job.Retries, job.MaxRetries, job.LastError,
		job.AvailableAt, job.CreatedAt, job.UpdatedAt,
	).Scan(&job.JobID)
	return err
}

// ClaimNextJob picks the oldest available pending job and flips it to
// running in one statement. FOR UPDATE SKIP LOCKED keeps concurrent workers
// from blocking on or double-claiming the same row.
func (p *Postgres) ClaimNextJob(ctx context.Context, jobType string) (*models.Job, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE jobs SET status = 'running', updated_at_utc = now()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = 'pending' AND available_at_utc <= now()
				AND (job_type = $1 OR $1::text = '')
			ORDER BY created_at_utc ASC, job_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, jobType)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoJobsAvailable
	}
	return job, err
}

func (p *Postgres) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE jobs
		SET status = $2, retries = $3, last_error = $4, available_at_utc = $5, updated_at_utc = $6
		WHERE job_id = $1`,
		job.JobID, job.Status, job.Retries, job.LastError, job.AvailableAt, job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PurgeCompletedJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM jobs WHERE status = 'completed' AND updated_at_utc < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', available_at_utc = now(), updated_at_utc = now()
		WHERE status = 'running' AND updated_at_utc < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	details, err := marshalObject(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO audit_log (audit_id, actor_id, actor_type, action, target_type, target_id,
			timestamp_utc, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.AuditID, entry.ActorID, entry.ActorType, entry.Action, entry.TargetType,
		entry.TargetID, entry.Timestamp, details,
	)
	return mapUniqueViolation(err)
}
