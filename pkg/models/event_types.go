package models

import "sort"

// Canonical event types. The set is closed: ingestion rejects anything else.
const (
	EventRunStarted        = "run_started"
	EventInputReceived     = "input_received"
	EventPromptRendered    = "prompt_rendered"
	EventRetrievalExecuted = "retrieval_executed"
	EventToolCalled        = "tool_called"
	EventToolResult        = "tool_result"
	EventModelCalled       = "model_called"
	EventModelResult       = "model_result"
	EventValidatorDecision = "validator_decision"
	EventSafetyDecision    = "safety_decision"
	EventFinalOutput       = "final_output"
	EventRunCompleted      = "run_completed"
	EventRunFailed         = "run_failed"
)

// requiredPayloadFields is the authoritative per-type payload contract.
var requiredPayloadFields = map[string][]string{
	EventRunStarted:    {"app_id", "environment", "entrypoint_name"},
	EventInputReceived: {"input_channels", "input_hash", "input_policy_labels"},
	EventPromptRendered: {
		"prompt_template_id",
		"prompt_template_version",
		"prompt_variables_ref",
		"rendered_prompt_ref",
	},
	EventRetrievalExecuted: {
		"retriever_id",
		"retriever_version",
		"query_text_ref",
		"top_k",
		"filters",
		"candidate_count",
		"candidate_list_ref",
	},
	EventToolCalled: {"tool_name", "tool_version", "call_signature_hash", "args_ref", "timeout_ms"},
	EventToolResult: {"tool_name", "status", "result_ref", "latency_ms"},
	EventModelCalled: {
		"provider",
		"model_id",
		"model_api_version",
		"temperature",
		"top_p",
		"max_tokens",
		"request_ref",
	},
	EventModelResult: {
		"provider",
		"model_id",
		"finish_reason",
		"token_usage",
		"response_ref",
		"latency_ms",
	},
	EventValidatorDecision: {"validator_name", "validator_version", "decision", "reason_ref"},
	EventSafetyDecision:    {"policy_name", "policy_version", "decision", "reason_ref"},
	EventFinalOutput:       {"output_ref", "response_channel"},
	EventRunCompleted:      {"status", "total_steps", "total_latency_ms"},
	EventRunFailed:         {"status", "failed_step_id", "error_class", "error_message_ref"},
}

// causalPrecedents maps result event types to the call type that must precede
// them within the same step.
var causalPrecedents = map[string]string{
	EventToolResult:  EventToolCalled,
	EventModelResult: EventModelCalled,
}

// KnownEventType reports whether t is in the canonical set.
func KnownEventType(t string) bool {
	_, ok := requiredPayloadFields[t]
	return ok
}

// MissingPayloadFields returns the sorted list of required payload fields for
// eventType that are absent from payload. Unknown types yield nil.
func MissingPayloadFields(eventType string, payload map[string]any) []string {
	required, ok := requiredPayloadFields[eventType]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range required {
		if _, present := payload[field]; !present {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// CausalPrecedent returns the call event type that must precede eventType in
// the same step, or "" when no precondition applies.
func CausalPrecedent(eventType string) string {
	return causalPrecedents[eventType]
}

// TerminalEventType reports whether t ends a run.
func TerminalEventType(t string) bool {
	return t == EventRunCompleted || t == EventRunFailed
}
