package models

import "time"

// Step is a logical scope within a run: one tool call, model call, prompt
// rendering, and so on. Steps are created implicitly by the first event that
// references a new step_id.
type Step struct {
	StepID       string  `json:"step_id"`
	RunID        string  `json:"run_id"`
	ParentStepID *string `json:"parent_step_id,omitempty"`
	// SequenceNo is the minimum event sequence seen for this step.
	SequenceNo      int64      `json:"sequence_no"`
	StepType        string     `json:"step_type"`
	DeterminismMode string     `json:"determinism_mode"`
	StartedAt       time.Time  `json:"started_at_utc"`
	EndedAt         *time.Time `json:"ended_at_utc,omitempty"`
}
