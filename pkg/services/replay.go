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

// ReplayService manages replay sessions on the API side: validated creation,
// status reads, and cancellation. Execution happens in the worker's replay
// engine, connected through the job queue.
type ReplayService struct {
	store store.Store
}

// NewReplayService creates a ReplayService.
func NewReplayService(st store.Store) *ReplayService {
	return &ReplayService{store: st}
}

// CreateReplaySession validates the request, records the session, enqueues
// the execution job, and appends the audit entry in one transaction, so a
// session row always has its job.
func (s *ReplayService) CreateReplaySession(ctx context.Context, req models.CreateReplayRequest, actor Actor) (*models.ReplaySession, error) {
	if req.SourceRunID == "" {
		return nil, NewValidationError("source_run_id is required", nil)
	}
	if req.ForkStepID != nil && *req.ForkStepID == "" {
		req.ForkStepID = nil
	}

	var session *models.ReplaySession
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		sourceRun, err := tx.GetRun(ctx, req.SourceRunID)
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("source_run_id not found", map[string]any{
				"source_run_id": req.SourceRunID,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to load source run: %w", err)
		}

		if !sourceRun.Terminal() {
			return NewValidationError("Source run must be terminal before replay", map[string]any{
				"status": sourceRun.Status,
			})
		}

		if req.ForkStepID != nil {
			step, err := tx.GetStep(ctx, *req.ForkStepID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to load fork step: %w", err)
			}
			if err != nil || step.RunID != req.SourceRunID {
				return NewValidationError("fork_step_id is not part of source run", map[string]any{
					"fork_step_id": *req.ForkStepID,
				})
			}
		}

		now := time.Now().UTC()
		session = &models.ReplaySession{
			ReplaySessionID: uuid.NewString(),
			SourceRunID:     req.SourceRunID,
			ForkStepID:      req.ForkStepID,
			OverrideProfile: req.OverrideProfile,
			Status:          models.ReplayPending,
			StartedAt:       now,
		}
		if err := tx.CreateReplaySession(ctx, session); err != nil {
			return fmt.Errorf("failed to create replay session: %w", err)
		}

		job := &models.Job{
			JobType:     models.JobTypeReplayExecute,
			Payload:     map[string]any{"replay_session_id": session.ReplaySessionID},
			Status:      models.JobPending,
			MaxRetries:  models.DefaultMaxRetries,
			AvailableAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.EnqueueJob(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue replay job: %w", err)
		}

		var forkStepID any
		if req.ForkStepID != nil {
			forkStepID = *req.ForkStepID
		}
		return tx.AppendAudit(ctx, &models.AuditLog{
			AuditID:    uuid.NewString(),
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			Action:     models.AuditReplayCreated,
			TargetType: "replay_session",
			TargetID:   session.ReplaySessionID,
			Timestamp:  now,
			Details: map[string]any{
				"source_run_id": req.SourceRunID,
				"fork_step_id":  forkStepID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetReplaySession returns the session by id.
func (s *ReplayService) GetReplaySession(ctx context.Context, replaySessionID string) (*models.ReplaySession, error) {
	session, err := s.store.GetReplaySession(ctx, replaySessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError("Replay session not found", map[string]any{
			"replay_session_id": replaySessionID,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load replay session: %w", err)
	}
	return session, nil
}

// CancelReplaySession flips cancel_requested and, when the session has not
// finished, fails it immediately with reason cancel_requested. A worker
// already executing the session observes the flag at its next event
// boundary and stops.
func (s *ReplayService) CancelReplaySession(ctx context.Context, replaySessionID string, actor Actor) (*models.ReplaySession, error) {
	var session *models.ReplaySession
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		loaded, err := tx.GetReplaySession(ctx, replaySessionID)
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("Replay session not found", map[string]any{
				"replay_session_id": replaySessionID,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to load replay session: %w", err)
		}

		now := time.Now().UTC()
		loaded.CancelRequested = true
		if loaded.Status == models.ReplayPending || loaded.Status == models.ReplayRunning {
			reason := models.ReasonCancelRequested
			loaded.Status = models.ReplayFailedExecution
			loaded.FailureReasonCode = &reason
			loaded.EndedAt = &now
		}
		if err := tx.UpdateReplaySession(ctx, loaded); err != nil {
			return fmt.Errorf("failed to update replay session: %w", err)
		}
		session = loaded

		return tx.AppendAudit(ctx, &models.AuditLog{
			AuditID:    uuid.NewString(),
			ActorID:    actor.ID,
			ActorType:  actor.Type,
			Action:     models.AuditReplayCancelled,
			TargetType: "replay_session",
			TargetID:   replaySessionID,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}
