// Package replay materializes replay sessions: it derives a new run from a
// recorded source run, reusing, caching, or simulating each event according
// to the fork point and the session's override profile.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// Engine executes replay sessions. It is driven by the job worker; one
// session is executed by at most one worker at a time because the job row
// is claimed exclusively.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// NewEngine creates an Engine on the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one replay session to completion. Sessions already in a
// terminal status are left untouched, so redelivering the same job is safe.
// Domain failures are recorded on the session and return nil; only
// infrastructure errors propagate, signalling the queue to retry.
func (e *Engine) Execute(ctx context.Context, replaySessionID string) error {
	session, err := e.store.GetReplaySession(ctx, replaySessionID)
	if err != nil {
		return fmt.Errorf("failed to load replay session: %w", err)
	}
	if session.TerminalStatus() {
		slog.Info("Replay session already terminal, skipping",
			"replay_session_id", session.ReplaySessionID,
			"status", session.Status)
		return nil
	}

	session.Status = models.ReplayRunning
	if err := e.store.UpdateReplaySession(ctx, session); err != nil {
		return fmt.Errorf("failed to mark replay session running: %w", err)
	}

	// The whole materialization is one transaction: either the derived run
	// with all its steps and events lands, or nothing does and a retry
	// starts clean.
	return e.store.WithTx(ctx, func(tx store.Store) error {
		return e.materialize(ctx, tx, session)
	})
}

func (e *Engine) materialize(ctx context.Context, tx store.Store, session *models.ReplaySession) error {
	sourceRun, err := tx.GetRun(ctx, session.SourceRunID)
	if err != nil {
		return fmt.Errorf("failed to load source run: %w", err)
	}
	if !sourceRun.Terminal() {
		return e.failValidation(ctx, tx, session, "", nil)
	}

	sourceEvents, err := tx.ListEvents(ctx, session.SourceRunID, store.EventFilter{})
	if err != nil {
		return fmt.Errorf("failed to load source events: %w", err)
	}
	if len(sourceEvents) == 0 {
		return e.failValidation(ctx, tx, session, models.ReasonSourceRunEmpty, nil)
	}
	for _, ev := range sourceEvents {
		if ev.ArtifactPending {
			return e.failValidation(ctx, tx, session,
				models.ReasonArtifactMissing, []string{models.ReasonArtifactMissing})
		}
	}

	derived := &models.Run{
		RunID:          uuid.NewString(),
		TraceID:        uuid.NewString(),
		AppID:          sourceRun.AppID,
		Environment:    sourceRun.Environment,
		Status:         models.RunStatusRunning,
		StartedAt:      e.now(),
		SourceType:     models.SourceTypeReplay,
		SourceRunID:    &sourceRun.RunID,
		Tags:           map[string]any{"replay_session_id": session.ReplaySessionID},
		RetentionClass: sourceRun.RetentionClass,
	}
	if err := tx.CreateRun(ctx, derived); err != nil {
		return fmt.Errorf("failed to create derived run: %w", err)
	}

	// Events strictly before the fork sequence are reused exactly. Without a
	// fork step the fork sits at the first event, so nothing is in the
	// reuse window.
	forkSequence := sourceEvents[0].SequenceNo
	if session.ForkStepID != nil {
		for _, ev := range sourceEvents {
			if ev.StepID == *session.ForkStepID {
				forkSequence = ev.SequenceNo
				break
			}
		}
	}

	// Fresh step identities, one per source step, stable within this
	// session.
	stepMap := make(map[string]string)
	for _, ev := range sourceEvents {
		if _, ok := stepMap[ev.StepID]; !ok {
			stepMap[ev.StepID] = uuid.NewString()
		}
	}

	reasonCodes := make(map[string]struct{})
	modeCounts := make(map[string]int)
	emittedSteps := make(map[string]bool)

	for i, sourceEvent := range sourceEvents {
		cancelled, err := e.cancelRequested(ctx, tx, session.ReplaySessionID)
		if err != nil {
			return err
		}
		if cancelled {
			now := e.now()
			reason := models.ReasonCancelRequested
			session.Status = models.ReplayFailedExecution
			session.FailureReasonCode = &reason
			session.EndedAt = &now
			session.CancelRequested = true
			if err := tx.UpdateReplaySession(ctx, session); err != nil {
				return fmt.Errorf("failed to record cancellation: %w", err)
			}
			slog.Info("Replay session cancelled mid-execution",
				"replay_session_id", session.ReplaySessionID,
				"events_materialized", i)
			return nil
		}

		payload := make(map[string]any, len(sourceEvent.Payload)+4)
		for k, v := range sourceEvent.Payload {
			payload[k] = v
		}
		payload["source_run_id"] = sourceRun.RunID
		var forkStep any
		if session.ForkStepID != nil {
			forkStep = *session.ForkStepID
		}
		payload["fork_step_id"] = forkStep
		payload["override_profile_id"] = session.ReplaySessionID

		mode, reasonCode := classifyEvent(sourceEvent, forkSequence, &session.OverrideProfile, payload)
		payload["replay_reason_code"] = reasonCode
		reasonCodes[reasonCode] = struct{}{}
		modeCounts[mode]++

		newStepID := stepMap[sourceEvent.StepID]
		var newParent *string
		if sourceEvent.ParentStepID != nil {
			if mapped, ok := stepMap[*sourceEvent.ParentStepID]; ok {
				newParent = &mapped
			}
		}

		if !emittedSteps[newStepID] {
			step := &models.Step{
				StepID:          newStepID,
				RunID:           derived.RunID,
				ParentStepID:    newParent,
				SequenceNo:      int64(i),
				StepType:        sourceEvent.EventType,
				DeterminismMode: mode,
				StartedAt:       sourceEvent.Timestamp,
			}
			if err := tx.CreateStep(ctx, step); err != nil {
				return fmt.Errorf("failed to create derived step: %w", err)
			}
			emittedSteps[newStepID] = true
		}

		now := e.now()
		derivedEvent := &models.Event{
			EventID:         uuid.NewString(),
			RunID:           derived.RunID,
			StepID:          newStepID,
			ParentStepID:    newParent,
			SequenceNo:      int64(i),
			EventType:       sourceEvent.EventType,
			SchemaVersion:   sourceEvent.SchemaVersion,
			Payload:         payload,
			RedactionStatus: sourceEvent.RedactionStatus,
			IdempotencyKey:  fmt.Sprintf("replay:%s:%s", session.ReplaySessionID, sourceEvent.EventID),
			Timestamp:       now,
			CreatedAt:       now,
			ActorType:       models.ActorReplayEngine,
			DeterminismMode: mode,
		}
		if err := tx.CreateEvent(ctx, derivedEvent); err != nil {
			return fmt.Errorf("failed to create derived event: %w", err)
		}
	}

	derivedStatus := models.RunStatusFailed
	if sourceRun.Status == models.RunStatusSuccess {
		derivedStatus = models.RunStatusSuccess
	}
	endedAt := e.now()
	if err := tx.UpdateRunStatus(ctx, derived.RunID, derivedStatus, &endedAt); err != nil {
		return fmt.Errorf("failed to finalize derived run: %w", err)
	}

	now := e.now()
	session.Status = deriveSessionStatus(modeCounts)
	session.EndedAt = &now
	session.FailureReasonCode = nil
	session.DerivedRunID = &derived.RunID
	session.ReasonCodes = sortedReasonCodes(reasonCodes)
	if err := tx.UpdateReplaySession(ctx, session); err != nil {
		return fmt.Errorf("failed to complete replay session: %w", err)
	}

	slog.Info("Replay session completed",
		"replay_session_id", session.ReplaySessionID,
		"status", session.Status,
		"derived_run_id", derived.RunID,
		"events", len(sourceEvents))
	return nil
}

// failValidation records a preflight failure on the session. The empty
// reason code leaves failure_reason_code unset.
func (e *Engine) failValidation(ctx context.Context, tx store.Store, session *models.ReplaySession, reasonCode string, reasonCodes []string) error {
	now := e.now()
	session.Status = models.ReplayFailedValidation
	if reasonCode != "" {
		session.FailureReasonCode = &reasonCode
	}
	session.ReasonCodes = reasonCodes
	session.EndedAt = &now
	if err := tx.UpdateReplaySession(ctx, session); err != nil {
		return fmt.Errorf("failed to record validation failure: %w", err)
	}
	slog.Info("Replay session failed validation",
		"replay_session_id", session.ReplaySessionID,
		"reason_code", reasonCode)
	return nil
}

// cancelRequested re-reads the session row so a cancellation committed by
// the API between events is observed.
func (e *Engine) cancelRequested(ctx context.Context, tx store.Store, sessionID string) (bool, error) {
	current, err := tx.GetReplaySession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to poll replay session: %w", err)
	}
	return current.CancelRequested, nil
}

// classifyEvent derives the determinism mode and reason code for one source
// event, applying override substitutions to payload as it matches. The rules
// are ordered; the first match wins.
func classifyEvent(event *models.Event, forkSequence int64, profile *models.OverrideProfile, payload map[string]any) (string, string) {
	if event.SequenceNo < forkSequence {
		return models.DeterminismExact, models.ReasonSourceOutputReused
	}

	if event.EventType == models.EventPromptRendered && profile.PromptOverride != nil {
		o := profile.PromptOverride
		if v, ok := overrideString(o.TemplateID); ok {
			payload["prompt_template_id"] = v
		}
		if v, ok := overrideString(o.TemplateVersion); ok {
			payload["prompt_template_version"] = v
		}
		if len(o.Variables) > 0 {
			payload["prompt_variables_override"] = o.Variables
		}
		return models.DeterminismSimulated, models.ReasonOperatorOverride
	}

	if (event.EventType == models.EventModelCalled || event.EventType == models.EventModelResult) && profile.ModelOverride != nil {
		o := profile.ModelOverride
		if v, ok := overrideString(o.Provider); ok {
			payload["provider"] = v
		}
		if v, ok := overrideString(o.ModelID); ok {
			payload["model_id"] = v
		}
		return models.DeterminismSimulated, models.ReasonOperatorOverride
	}

	if event.EventType == models.EventRetrievalExecuted && profile.RetrieverOverride != nil {
		o := profile.RetrieverOverride
		if o.TopK != nil {
			payload["top_k"] = *o.TopK
		}
		if len(o.Filters) > 0 {
			payload["filters"] = o.Filters
		}
		if v, ok := overrideString(o.EmbeddingProfile); ok {
			payload["embedding_profile"] = v
		}
		return models.DeterminismSimulated, models.ReasonOperatorOverride
	}

	if event.EventType == models.EventToolResult {
		if override, ok := profile.ToolSimulationOverrides[event.StepID]; ok {
			payload["result_ref"] = override
			return models.DeterminismSimulated, models.ReasonOperatorOverride
		}
	}

	switch event.EventType {
	case models.EventToolCalled, models.EventToolResult, models.EventModelCalled,
		models.EventModelResult, models.EventRetrievalExecuted:
		return models.DeterminismCached, models.ReasonCacheHitSignature
	}

	return models.DeterminismExact, models.ReasonSourceOutputReused
}

// deriveSessionStatus maps per-mode event counts onto the session outcome.
// A cached-only replay reports completed_mixed; completed_cached is never
// produced.
func deriveSessionStatus(modeCounts map[string]int) string {
	simulated := modeCounts[models.DeterminismSimulated]
	cached := modeCounts[models.DeterminismCached]
	exact := modeCounts[models.DeterminismExact]

	switch {
	case simulated == 0 && cached == 0 && exact > 0:
		return models.ReplayCompletedExact
	case simulated > 0 && (cached > 0 || exact > 0):
		return models.ReplayCompletedMixed
	case simulated > 0:
		return models.ReplayCompletedSimulated
	default:
		return models.ReplayCompletedMixed
	}
}

func overrideString(p *string) (string, bool) {
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

func sortedReasonCodes(codes map[string]struct{}) []string {
	out := make([]string, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
