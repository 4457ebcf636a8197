package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// newTestRun creates a running run with sensible defaults.
func newTestRun(t *testing.T, svc *IngestionService) *models.Run {
	t.Helper()
	run, err := svc.CreateRun(context.Background(), models.CreateRunRequest{
		AppID:       "checkout-bot",
		Environment: "staging",
	})
	require.NoError(t, err)
	return run
}

// testEvent builds a canonical event with the minimal valid payload for its
// type. Payload overrides merge on top.
func testEvent(runID, stepID, eventType string, seq int64, overrides map[string]any) *models.CanonicalEvent {
	payload := validPayload(eventType)
	for k, v := range overrides {
		payload[k] = v
	}
	return &models.CanonicalEvent{
		SchemaVersion:   "1.0.0",
		RunID:           runID,
		StepID:          stepID,
		SequenceNo:      seq,
		EventType:       eventType,
		Timestamp:       time.Now().UTC(),
		ActorType:       models.ActorSDK,
		DeterminismMode: models.DeterminismLive,
		RedactionStatus: models.RedactionNotRequired,
		Payload:         payload,
	}
}

// validPayload returns a minimal payload satisfying the type's required
// fields. Unknown types get an empty map.
func validPayload(eventType string) map[string]any {
	switch eventType {
	case models.EventRunStarted:
		return map[string]any{
			"app_id":          "checkout-bot",
			"environment":     "staging",
			"entrypoint_name": "handle_checkout",
		}
	case models.EventInputReceived:
		return map[string]any{
			"input_channels":      []string{"http"},
			"input_hash":          "a1b2",
			"input_policy_labels": []string{},
		}
	case models.EventPromptRendered:
		return map[string]any{
			"prompt_template_id":      "checkout-v2",
			"prompt_template_version": "7",
			"prompt_variables_ref":    "sha256:vars",
			"rendered_prompt_ref":     "sha256:prompt",
		}
	case models.EventRetrievalExecuted:
		return map[string]any{
			"retriever_id":       "faq-index",
			"retriever_version":  "3",
			"query_text_ref":     "sha256:query",
			"top_k":              5,
			"filters":            map[string]any{"lang": "en"},
			"candidate_count":    4,
			"candidate_list_ref": "sha256:candidates",
		}
	case models.EventToolCalled:
		return map[string]any{
			"tool_name":           "inventory_lookup",
			"tool_version":        "1.2.0",
			"call_signature_hash": "sig-77",
			"args_ref":            "sha256:args",
			"timeout_ms":          2000,
		}
	case models.EventToolResult:
		return map[string]any{
			"tool_name":  "inventory_lookup",
			"status":     "ok",
			"result_ref": "sha256:result",
			"latency_ms": 41,
		}
	case models.EventModelCalled:
		return map[string]any{
			"provider":          "openai",
			"model_id":          "gpt-4o",
			"model_api_version": "2024-06-01",
			"temperature":       0.0,
			"top_p":             1.0,
			"max_tokens":        512,
			"request_ref":       "sha256:request",
		}
	case models.EventModelResult:
		return map[string]any{
			"provider":      "openai",
			"model_id":      "gpt-4o",
			"finish_reason": "stop",
			"token_usage":   map[string]any{"prompt": 120, "completion": 80},
			"response_ref":  "sha256:response",
			"latency_ms":    950,
		}
	case models.EventValidatorDecision:
		return map[string]any{
			"validator_name":    "schema-check",
			"validator_version": "1",
			"decision":          "pass",
			"reason_ref":        "sha256:reason",
		}
	case models.EventSafetyDecision:
		return map[string]any{
			"policy_name":    "content-policy",
			"policy_version": "4",
			"decision":       "allow",
			"reason_ref":     "sha256:reason",
		}
	case models.EventFinalOutput:
		return map[string]any{
			"output_ref":       "sha256:output",
			"response_channel": "http",
		}
	case models.EventRunCompleted:
		return map[string]any{
			"status":           "success",
			"total_steps":      3,
			"total_latency_ms": 1800,
		}
	case models.EventRunFailed:
		return map[string]any{
			"status":            "failed",
			"failed_step_id":    "step-2",
			"error_class":       "ToolTimeout",
			"error_message_ref": "sha256:error",
		}
	default:
		return map[string]any{}
	}
}

// mustIngest appends an event and fails the test on any rejection.
func mustIngest(t *testing.T, svc *IngestionService, runID, key string, event *models.CanonicalEvent) *models.Event {
	t.Helper()
	result, err := svc.IngestEvent(context.Background(), runID, key, event)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	return result.Event
}

// seedTerminalRun records a run with a run_started and run_completed event
// and returns it, ready to be replayed.
func seedTerminalRun(t *testing.T, st store.Store) *models.Run {
	t.Helper()
	svc := NewIngestionService(st)
	run := newTestRun(t, svc)
	mustIngest(t, svc, run.RunID, run.RunID+":0", testEvent(run.RunID, "step-0", models.EventRunStarted, 0, nil))
	mustIngest(t, svc, run.RunID, run.RunID+":1", testEvent(run.RunID, "step-1", models.EventRunCompleted, 1, nil))
	run.Status = models.RunStatusSuccess
	return run
}
