package replay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// sourceEvent builds one recorded event. RunID and a unique idempotency key
// are filled in by seedRun.
func sourceEvent(stepID, eventType string, seq int64, payload map[string]any) models.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	now := time.Now().UTC()
	return models.Event{
		EventID:         fmt.Sprintf("ev-%d", seq),
		StepID:          stepID,
		SequenceNo:      seq,
		EventType:       eventType,
		SchemaVersion:   "1.0.0",
		Payload:         payload,
		RedactionStatus: models.RedactionNotRequired,
		Timestamp:       now,
		CreatedAt:       now,
		ActorType:       models.ActorSDK,
		DeterminismMode: models.DeterminismLive,
	}
}

// seedRun records a run holding the given events and moves it to status.
func seedRun(t *testing.T, mem *store.Memory, status string, events []models.Event) *models.Run {
	t.Helper()
	ctx := context.Background()
	run := &models.Run{
		RunID:          uuid.NewString(),
		TraceID:        uuid.NewString(),
		AppID:          "checkout-bot",
		Environment:    "staging",
		Status:         models.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
		SourceType:     models.SourceTypeLive,
		Tags:           map[string]any{},
		RetentionClass: models.DefaultRetentionClass,
	}
	require.NoError(t, mem.CreateRun(ctx, run))
	for i := range events {
		events[i].RunID = run.RunID
		events[i].IdempotencyKey = fmt.Sprintf("%s:%d", run.RunID, events[i].SequenceNo)
		require.NoError(t, mem.CreateEvent(ctx, &events[i]))
	}
	if status != models.RunStatusRunning {
		endedAt := time.Now().UTC()
		require.NoError(t, mem.UpdateRunStatus(ctx, run.RunID, status, &endedAt))
		run.Status = status
		run.EndedAt = &endedAt
	}
	return run
}

// seedSession records a pending replay session for the source run.
func seedSession(t *testing.T, mem *store.Memory, sourceRunID string, profile models.OverrideProfile, forkStepID *string) *models.ReplaySession {
	t.Helper()
	session := &models.ReplaySession{
		ReplaySessionID: uuid.NewString(),
		SourceRunID:     sourceRunID,
		ForkStepID:      forkStepID,
		OverrideProfile: profile,
		Status:          models.ReplayPending,
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, mem.CreateReplaySession(context.Background(), session))
	return session
}

func strptr(s string) *string { return &s }

func TestEngine_Execute_Preflight(t *testing.T) {
	ctx := context.Background()

	t.Run("skips a session already terminal", func(t *testing.T) {
		mem := store.NewMemory()
		session := &models.ReplaySession{
			ReplaySessionID: uuid.NewString(),
			SourceRunID:     "whatever",
			Status:          models.ReplayCompletedExact,
			StartedAt:       time.Now().UTC(),
		}
		require.NoError(t, mem.CreateReplaySession(ctx, session))

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayCompletedExact, final.Status)
		assert.Nil(t, final.DerivedRunID)
	})

	t.Run("unknown session is an infrastructure error", func(t *testing.T) {
		err := NewEngine(store.NewMemory()).Execute(ctx, "missing")
		require.Error(t, err)
	})

	t.Run("fails validation when the source run is still running", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusRunning, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayFailedValidation, final.Status)
		assert.Nil(t, final.FailureReasonCode, "a non-terminal source has no dedicated reason code")
		assert.NotNil(t, final.EndedAt)
		assert.Nil(t, final.DerivedRunID)
	})

	t.Run("fails validation when the source run has no events", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, nil)
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayFailedValidation, final.Status)
		require.NotNil(t, final.FailureReasonCode)
		assert.Equal(t, models.ReasonSourceRunEmpty, *final.FailureReasonCode)
	})

	t.Run("fails validation when an artifact is still pending", func(t *testing.T) {
		mem := store.NewMemory()
		pending := sourceEvent("step-b", models.EventToolCalled, 1, nil)
		pending.ArtifactPending = true
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			pending,
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayFailedValidation, final.Status)
		require.NotNil(t, final.FailureReasonCode)
		assert.Equal(t, models.ReasonArtifactMissing, *final.FailureReasonCode)
		assert.Equal(t, []string{models.ReasonArtifactMissing}, final.ReasonCodes)
	})
}

func TestEngine_Execute_Materialization(t *testing.T) {
	ctx := context.Background()

	t.Run("derives a run without overrides", func(t *testing.T) {
		mem := store.NewMemory()
		parent := "step-a"
		toolCalled := sourceEvent("step-b", models.EventToolCalled, 1, map[string]any{"tool_name": "inventory_lookup"})
		toolCalled.ParentStepID = &parent
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			toolCalled,
			sourceEvent("step-b", models.EventToolResult, 2, nil),
			sourceEvent("step-c", models.EventRunCompleted, 3, nil),
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayCompletedMixed, final.Status)
		assert.Nil(t, final.FailureReasonCode)
		require.NotNil(t, final.EndedAt)
		assert.Equal(t, []string{models.ReasonCacheHitSignature, models.ReasonSourceOutputReused}, final.ReasonCodes)
		require.NotNil(t, final.DerivedRunID)

		derived, err := mem.GetRun(ctx, *final.DerivedRunID)
		require.NoError(t, err)
		assert.Equal(t, models.SourceTypeReplay, derived.SourceType)
		require.NotNil(t, derived.SourceRunID)
		assert.Equal(t, run.RunID, *derived.SourceRunID)
		assert.Equal(t, run.AppID, derived.AppID)
		assert.Equal(t, run.RetentionClass, derived.RetentionClass)
		assert.Equal(t, models.RunStatusSuccess, derived.Status, "derived status mirrors the source")
		assert.NotNil(t, derived.EndedAt)
		assert.Equal(t, session.ReplaySessionID, derived.Tags["replay_session_id"])

		events, err := mem.ListEvents(ctx, derived.RunID, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 4)

		wantModes := []string{
			models.DeterminismExact,
			models.DeterminismCached,
			models.DeterminismCached,
			models.DeterminismExact,
		}
		for i, ev := range events {
			assert.Equal(t, int64(i), ev.SequenceNo)
			assert.Equal(t, models.ActorReplayEngine, ev.ActorType)
			assert.Equal(t, wantModes[i], ev.DeterminismMode)
			assert.Equal(t, fmt.Sprintf("replay:%s:ev-%d", session.ReplaySessionID, i), ev.IdempotencyKey)
			assert.Equal(t, run.RunID, ev.Payload["source_run_id"])
			assert.Nil(t, ev.Payload["fork_step_id"])
			assert.Equal(t, session.ReplaySessionID, ev.Payload["override_profile_id"])
			assert.NotEmpty(t, ev.Payload["replay_reason_code"])
		}

		assert.NotEqual(t, "step-a", events[0].StepID, "derived steps get fresh identities")
		assert.Equal(t, events[1].StepID, events[2].StepID, "events sharing a source step share the derived step")
		require.NotNil(t, events[1].ParentStepID)
		assert.Equal(t, events[0].StepID, *events[1].ParentStepID, "parent references are remapped")

		step, err := mem.GetStep(ctx, events[1].StepID)
		require.NoError(t, err)
		assert.Equal(t, derived.RunID, step.RunID)
	})

	t.Run("reuses events before the fork step exactly", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventToolCalled, 1, nil),
			sourceEvent("step-b", models.EventToolResult, 2, nil),
			sourceEvent("step-c", models.EventModelCalled, 3, nil),
			sourceEvent("step-d", models.EventRunCompleted, 4, nil),
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, strptr("step-c"))

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		require.NotNil(t, final.DerivedRunID)

		events, err := mem.ListEvents(ctx, *final.DerivedRunID, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 5)

		for _, ev := range events[:3] {
			assert.Equal(t, models.DeterminismExact, ev.DeterminismMode)
			assert.Equal(t, models.ReasonSourceOutputReused, ev.Payload["replay_reason_code"])
			assert.Equal(t, "step-c", ev.Payload["fork_step_id"])
		}
		assert.Equal(t, models.DeterminismCached, events[3].DeterminismMode, "the fork event itself is re-derived")
		assert.Equal(t, models.DeterminismExact, events[4].DeterminismMode)
	})

	t.Run("applies prompt model retriever and tool overrides", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventPromptRendered, 1, map[string]any{
				"prompt_template_id":      "checkout-v2",
				"prompt_template_version": "7",
			}),
			sourceEvent("step-c", models.EventModelCalled, 2, map[string]any{
				"provider": "openai",
				"model_id": "gpt-4o",
			}),
			sourceEvent("step-c", models.EventModelResult, 3, map[string]any{
				"provider": "openai",
				"model_id": "gpt-4o",
			}),
			sourceEvent("step-d", models.EventRetrievalExecuted, 4, map[string]any{
				"top_k":   5,
				"filters": map[string]any{"lang": "en"},
			}),
			sourceEvent("step-e", models.EventToolResult, 5, map[string]any{
				"result_ref": "sha256:recorded",
			}),
			sourceEvent("step-f", models.EventRunCompleted, 6, nil),
		})

		topK := 0
		profile := models.OverrideProfile{
			PromptOverride: &models.PromptOverride{
				TemplateID:      strptr("checkout-v3"),
				TemplateVersion: strptr("9"),
				Variables:       map[string]any{"discount": "none"},
			},
			ModelOverride: &models.ModelOverride{
				ModelID: strptr("gpt-4o-mini"),
			},
			RetrieverOverride: &models.RetrieverOverride{
				TopK:             &topK,
				EmbeddingProfile: strptr("small"),
			},
			ToolSimulationOverrides: map[string]map[string]any{
				"step-e": {"status": "ok", "result": "simulated"},
			},
		}
		session := seedSession(t, mem, run.RunID, profile, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayCompletedMixed, final.Status)
		assert.Equal(t, []string{
			models.ReasonOperatorOverride,
			models.ReasonSourceOutputReused,
		}, final.ReasonCodes)
		require.NotNil(t, final.DerivedRunID)

		events, err := mem.ListEvents(ctx, *final.DerivedRunID, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 7)

		prompt := events[1]
		assert.Equal(t, models.DeterminismSimulated, prompt.DeterminismMode)
		assert.Equal(t, "checkout-v3", prompt.Payload["prompt_template_id"])
		assert.Equal(t, "9", prompt.Payload["prompt_template_version"])
		assert.Equal(t, map[string]any{"discount": "none"}, prompt.Payload["prompt_variables_override"])

		modelCalled := events[2]
		assert.Equal(t, models.DeterminismSimulated, modelCalled.DeterminismMode)
		assert.Equal(t, "gpt-4o-mini", modelCalled.Payload["model_id"])
		assert.Equal(t, "openai", modelCalled.Payload["provider"], "absent provider override leaves the recorded value")
		assert.Equal(t, models.DeterminismSimulated, events[3].DeterminismMode)

		retrieval := events[4]
		assert.Equal(t, models.DeterminismSimulated, retrieval.DeterminismMode)
		assert.Equal(t, 0, retrieval.Payload["top_k"], "an explicit zero top_k substitutes")
		assert.Equal(t, "small", retrieval.Payload["embedding_profile"])
		assert.Equal(t, map[string]any{"lang": "en"}, retrieval.Payload["filters"], "empty filters override leaves the recorded value")

		toolResult := events[5]
		assert.Equal(t, models.DeterminismSimulated, toolResult.DeterminismMode)
		assert.Equal(t, models.ReasonOperatorOverride, toolResult.Payload["replay_reason_code"])
		assert.Equal(t, map[string]any{"status": "ok", "result": "simulated"}, toolResult.Payload["result_ref"])
	})

	t.Run("empty override strings do not substitute", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventPromptRendered, 0, map[string]any{
				"prompt_template_id": "checkout-v2",
			}),
		})
		profile := models.OverrideProfile{
			PromptOverride: &models.PromptOverride{TemplateID: strptr("")},
		}
		session := seedSession(t, mem, run.RunID, profile, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		require.NotNil(t, final.DerivedRunID)

		events, err := mem.ListEvents(ctx, *final.DerivedRunID, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.DeterminismSimulated, events[0].DeterminismMode, "the profile still marks the event simulated")
		assert.Equal(t, "checkout-v2", events[0].Payload["prompt_template_id"])
	})

	t.Run("derived run mirrors a failed source", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusFailed, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventRunFailed, 1, nil),
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		require.NotNil(t, final.DerivedRunID)
		derived, err := mem.GetRun(ctx, *final.DerivedRunID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, derived.Status)
	})

	t.Run("stops when cancellation is requested", func(t *testing.T) {
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventRunCompleted, 1, nil),
		})
		session := seedSession(t, mem, run.RunID, models.OverrideProfile{}, nil)
		session.CancelRequested = true
		require.NoError(t, mem.UpdateReplaySession(ctx, session))

		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))

		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayFailedExecution, final.Status)
		require.NotNil(t, final.FailureReasonCode)
		assert.Equal(t, models.ReasonCancelRequested, *final.FailureReasonCode)
		assert.True(t, final.CancelRequested)
		assert.NotNil(t, final.EndedAt)
		assert.Nil(t, final.DerivedRunID, "a cancelled session never publishes a derived run id")
	})
}

func TestDeriveSessionStatus(t *testing.T) {
	ctx := context.Background()

	execute := func(t *testing.T, events []models.Event, profile models.OverrideProfile) string {
		t.Helper()
		mem := store.NewMemory()
		run := seedRun(t, mem, models.RunStatusSuccess, events)
		session := seedSession(t, mem, run.RunID, profile, nil)
		require.NoError(t, NewEngine(mem).Execute(ctx, session.ReplaySessionID))
		final, err := mem.GetReplaySession(ctx, session.ReplaySessionID)
		require.NoError(t, err)
		return final.Status
	}

	t.Run("exact only is completed_exact", func(t *testing.T) {
		status := execute(t, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventInputReceived, 1, nil),
			sourceEvent("step-c", models.EventRunCompleted, 2, nil),
		}, models.OverrideProfile{})
		assert.Equal(t, models.ReplayCompletedExact, status)
	})

	t.Run("cached only is completed_mixed", func(t *testing.T) {
		status := execute(t, []models.Event{
			sourceEvent("step-a", models.EventToolCalled, 0, nil),
			sourceEvent("step-a", models.EventToolResult, 1, nil),
		}, models.OverrideProfile{})
		assert.Equal(t, models.ReplayCompletedMixed, status)
	})

	t.Run("simulated only is completed_simulated", func(t *testing.T) {
		status := execute(t, []models.Event{
			sourceEvent("step-a", models.EventPromptRendered, 0, nil),
		}, models.OverrideProfile{
			PromptOverride: &models.PromptOverride{TemplateID: strptr("other")},
		})
		assert.Equal(t, models.ReplayCompletedSimulated, status)
	})

	t.Run("simulated with exact is completed_mixed", func(t *testing.T) {
		status := execute(t, []models.Event{
			sourceEvent("step-a", models.EventRunStarted, 0, nil),
			sourceEvent("step-b", models.EventPromptRendered, 1, nil),
			sourceEvent("step-c", models.EventRunCompleted, 2, nil),
		}, models.OverrideProfile{
			PromptOverride: &models.PromptOverride{TemplateID: strptr("other")},
		})
		assert.Equal(t, models.ReplayCompletedMixed, status)
	})
}
