package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// IngestionService owns the write path for runs: creation, event appends,
// and administrative finalization.
type IngestionService struct {
	store store.Store
}

// NewIngestionService creates an IngestionService.
func NewIngestionService(st store.Store) *IngestionService {
	return &IngestionService{store: st}
}

// IngestResult reports the outcome of one event append.
type IngestResult struct {
	Event    *models.Event
	Accepted bool
	Warnings []string
}

// CreateRun opens a new run in status running.
func (s *IngestionService) CreateRun(ctx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	if req.AppID == "" {
		return nil, NewValidationError("app_id is required", nil)
	}
	if req.Environment == "" {
		return nil, NewValidationError("environment is required", nil)
	}

	run := &models.Run{
		RunID:          uuid.NewString(),
		TraceID:        uuid.NewString(),
		AppID:          req.AppID,
		Environment:    req.Environment,
		Status:         models.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
		SourceType:     req.SourceType,
		Tags:           req.Tags,
		RetentionClass: req.RetentionClass,
	}
	if run.SourceType == "" {
		run.SourceType = models.SourceTypeLive
	}
	if run.Tags == nil {
		run.Tags = map[string]any{}
	}
	if run.RetentionClass == "" {
		run.RetentionClass = models.DefaultRetentionClass
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// IngestEvent validates and appends one event to the run. Appends to a run
// are serialized on its row lock and idempotent on the caller's key: a
// duplicate key returns the first-observed event with Accepted false.
func (s *IngestionService) IngestEvent(ctx context.Context, runID, idempotencyKey string, event *models.CanonicalEvent) (*IngestResult, error) {
	if idempotencyKey == "" {
		return nil, NewValidationError("idempotency_key is required", nil)
	}
	if event == nil {
		return nil, NewValidationError("event is required", nil)
	}
	if event.StepID == "" {
		return nil, NewValidationError("event.step_id is required", nil)
	}

	var result *IngestResult
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		run, err := tx.GetRunForUpdate(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("Run not found", map[string]any{"run_id": runID})
		}
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}

		existing, err := tx.GetEventByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			result = &IngestResult{Event: existing, Accepted: false, Warnings: []string{}}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		warnings, err := validateEvent(ctx, tx, run, event)
		if err != nil {
			return err
		}

		if err := upsertStep(ctx, tx, event); err != nil {
			return err
		}

		dbEvent := &models.Event{
			EventID:         uuid.NewString(),
			RunID:           event.RunID,
			StepID:          event.StepID,
			ParentStepID:    event.ParentStepID,
			SequenceNo:      event.SequenceNo,
			EventType:       event.EventType,
			SchemaVersion:   event.SchemaVersion,
			Payload:         event.Payload,
			RedactionStatus: event.RedactionStatus,
			IdempotencyKey:  idempotencyKey,
			Timestamp:       event.Timestamp,
			CreatedAt:       time.Now().UTC(),
			ActorType:       event.ActorType,
			DeterminismMode: event.DeterminismMode,
		}

		for _, ref := range event.ArtifactRefs {
			created, err := ensureArtifactRow(ctx, tx, ref)
			if err != nil {
				return err
			}
			if created {
				dbEvent.ArtifactPending = true
			}
		}

		if err := tx.CreateEvent(ctx, dbEvent); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		for _, ref := range event.ArtifactRefs {
			link := &models.EventArtifact{
				EventID:       dbEvent.EventID,
				ArtifactHash:  ref.ArtifactHash,
				ReferenceRole: ref.ArtifactType,
			}
			if err := tx.LinkEventArtifact(ctx, link); err != nil {
				return fmt.Errorf("failed to link artifact %s: %w", ref.ArtifactHash, err)
			}
		}

		if models.TerminalEventType(event.EventType) {
			status := models.RunStatusSuccess
			if event.EventType == models.EventRunFailed {
				status = models.RunStatusFailed
			}
			endedAt := time.Now().UTC()
			if err := tx.UpdateRunStatus(ctx, run.RunID, status, &endedAt); err != nil {
				return fmt.Errorf("failed to finalize run from terminal event: %w", err)
			}
		}

		result = &IngestResult{Event: dbEvent, Accepted: true, Warnings: warnings}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// Lost the insert race on the idempotency index: the first writer's
		// event is the answer.
		existing, readErr := s.store.GetEventByIdempotencyKey(ctx, idempotencyKey)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read event after idempotency conflict: %w", readErr)
		}
		return &IngestResult{Event: existing, Accepted: false, Warnings: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FinalizeRun forces the run to a terminal status without appending a
// terminal event.
func (s *IngestionService) FinalizeRun(ctx context.Context, runID string, req models.FinalizeRunRequest, actor Actor) (*models.Run, error) {
	var run *models.Run
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		loaded, err := tx.GetRunForUpdate(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("Run not found", map[string]any{"run_id": runID})
		}
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}

		if req.FinalStatus != models.RunStatusSuccess && req.FinalStatus != models.RunStatusFailed {
			return NewValidationError("final_status must be 'success' or 'failed'", map[string]any{
				"final_status": req.FinalStatus,
			})
		}

		endedAt := time.Now().UTC()
		if err := tx.UpdateRunStatus(ctx, runID, req.FinalStatus, &endedAt); err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}
		loaded.Status = req.FinalStatus
		loaded.EndedAt = &endedAt
		run = loaded

		return tx.AppendAudit(ctx, &models.AuditLog{
			AuditID:    uuid.NewString(),
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			Action:     models.AuditRunFinalized,
			TargetType: "run",
			TargetID:   runID,
			Timestamp:  endedAt,
			Details:    map[string]any{"final_status": req.FinalStatus},
		})
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// upsertStep creates the step on its first referencing event or refreshes
// its bounds on later ones: ended_at tracks the latest event, sequence_no
// the earliest.
func upsertStep(ctx context.Context, tx store.Store, event *models.CanonicalEvent) error {
	step, err := tx.GetStep(ctx, event.StepID)
	if errors.Is(err, store.ErrNotFound) {
		created := &models.Step{
			StepID:          event.StepID,
			RunID:           event.RunID,
			ParentStepID:    event.ParentStepID,
			SequenceNo:      event.SequenceNo,
			StepType:        event.EventType,
			DeterminismMode: event.DeterminismMode,
			StartedAt:       event.Timestamp,
		}
		if err := tx.CreateStep(ctx, created); err != nil {
			return fmt.Errorf("failed to create step: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load step: %w", err)
	}

	if event.SequenceNo < step.SequenceNo {
		step.SequenceNo = event.SequenceNo
	}
	endedAt := event.Timestamp
	step.EndedAt = &endedAt
	step.DeterminismMode = event.DeterminismMode
	if err := tx.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	return nil
}

// ensureArtifactRow guarantees a row exists for the referenced artifact,
// inserting a pending placeholder when it has not been registered yet.
// Reports whether a placeholder was created.
func ensureArtifactRow(ctx context.Context, tx store.Store, ref models.ArtifactRef) (bool, error) {
	_, err := tx.GetArtifact(ctx, ref.ArtifactHash)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to look up artifact %s: %w", ref.ArtifactHash, err)
	}

	placeholder := &models.Artifact{
		ArtifactHash:     ref.ArtifactHash,
		ArtifactType:     ref.ArtifactType,
		ByteSize:         ref.ByteSize,
		MimeType:         ref.MimeType,
		ContentEncoding:  ref.ContentEncoding,
		RedactionProfile: ref.RedactionProfile,
		StorageBucket:    models.PlaceholderLocation,
		StorageObjectKey: models.PlaceholderLocation,
		RetentionClass:   models.DefaultRetentionClass,
		Status:           models.ArtifactPending,
		HashAlgorithm:    "sha256",
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.CreateArtifact(ctx, placeholder); err != nil {
		return false, fmt.Errorf("failed to create placeholder artifact: %w", err)
	}
	return true, nil
}
