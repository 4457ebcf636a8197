package models

import "time"

// Replay session statuses.
//
// completed_cached is admitted by the type but never produced by the status
// derivation: a cached-only replay maps to completed_mixed. Kept for wire
// compatibility.
const (
	ReplayPending            = "pending"
	ReplayRunning            = "running"
	ReplayCompletedExact     = "completed_exact"
	ReplayCompletedCached    = "completed_cached"
	ReplayCompletedSimulated = "completed_simulated"
	ReplayCompletedMixed     = "completed_mixed"
	ReplayFailedValidation   = "failed_validation"
	ReplayFailedExecution    = "failed_execution"
)

// Per-event replay reason codes and session failure reason codes.
const (
	ReasonSourceOutputReused = "source_output_reused"
	ReasonOperatorOverride   = "simulation_operator_override"
	ReasonCacheHitSignature  = "cache_hit_signature_match"
	ReasonSourceRunEmpty     = "source_run_empty"
	ReasonArtifactMissing    = "artifact_missing"
	ReasonCancelRequested    = "cancel_requested"
)

// ReplaySession is one replay request and its recorded outcome.
type ReplaySession struct {
	ReplaySessionID   string          `json:"replay_session_id"`
	SourceRunID       string          `json:"source_run_id"`
	ForkStepID        *string         `json:"fork_step_id,omitempty"`
	OverrideProfile   OverrideProfile `json:"override_profile"`
	Status            string          `json:"status"`
	StartedAt         time.Time       `json:"started_at_utc"`
	EndedAt           *time.Time      `json:"ended_at_utc,omitempty"`
	FailureReasonCode *string         `json:"failure_reason_code,omitempty"`
	DerivedRunID      *string         `json:"derived_run_id,omitempty"`
	// ReasonCodes is the sorted, de-duplicated set of per-event reason codes
	// recorded when the session completes.
	ReasonCodes     []string `json:"reason_codes,omitempty"`
	CancelRequested bool     `json:"cancel_requested"`
}

// TerminalStatus reports whether the session has reached a terminal status.
func (s *ReplaySession) TerminalStatus() bool {
	return s.Status != ReplayPending && s.Status != ReplayRunning
}

// PromptOverride substitutes prompt template identity and variables.
type PromptOverride struct {
	TemplateID      *string        `json:"template_id,omitempty"`
	TemplateVersion *string        `json:"template_version,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
}

// ModelOverride substitutes the model provider and identifier.
type ModelOverride struct {
	Provider *string `json:"provider,omitempty"`
	ModelID  *string `json:"model_id,omitempty"`
}

// RetrieverOverride substitutes retrieval parameters.
type RetrieverOverride struct {
	TopK             *int           `json:"top_k,omitempty"`
	Filters          map[string]any `json:"filters,omitempty"`
	EmbeddingProfile *string        `json:"embedding_profile,omitempty"`
}

// OverrideProfile directs the replay engine to substitute prompt, model,
// retriever, or tool outputs. Tool overrides are keyed by source step_id.
type OverrideProfile struct {
	PromptOverride          *PromptOverride           `json:"prompt_override,omitempty"`
	ModelOverride           *ModelOverride            `json:"model_override,omitempty"`
	RetrieverOverride       *RetrieverOverride        `json:"retriever_override,omitempty"`
	ToolSimulationOverrides map[string]map[string]any `json:"tool_simulation_overrides,omitempty"`
}

// ReplayPreferences express client-side mode preferences. They are recorded
// with the request but do not alter classification.
type ReplayPreferences struct {
	PreferredModes  []string `json:"preferred_modes"`
	FailOnSimulated bool     `json:"fail_on_simulated"`
}
