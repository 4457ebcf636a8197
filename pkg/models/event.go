package models

import (
	"encoding/json"
	"time"
)

// Determinism modes classify how faithfully an event's effect is reproduced.
const (
	DeterminismLive      = "live"
	DeterminismExact     = "exact"
	DeterminismCached    = "cached"
	DeterminismSimulated = "simulated"
)

// Redaction statuses for events and artifacts.
const (
	RedactionNotRequired = "not_required"
	RedactionRedacted    = "redacted"
	RedactionBlocked     = "blocked"
	RedactionFailed      = "failed"
)

// Actor types identify who appended an event.
const (
	ActorSDK          = "sdk"
	ActorBackend      = "backend"
	ActorReplayEngine = "replay_engine"
)

// Event is the atomic append of the recorder. Events are immutable after
// insert and strictly ordered per run by sequence_no.
type Event struct {
	EventID         string         `json:"event_id"`
	RunID           string         `json:"run_id"`
	StepID          string         `json:"step_id"`
	ParentStepID    *string        `json:"parent_step_id,omitempty"`
	SequenceNo      int64          `json:"sequence_no"`
	EventType       string         `json:"event_type"`
	SchemaVersion   string         `json:"schema_version"`
	Payload         map[string]any `json:"payload"`
	RedactionStatus string         `json:"redaction_status"`
	// IdempotencyKey is globally unique; duplicate appends coalesce to the
	// first-observed event.
	IdempotencyKey  string    `json:"idempotency_key"`
	Timestamp       time.Time `json:"timestamp_utc"`
	CreatedAt       time.Time `json:"created_at_utc"`
	ActorType       string    `json:"actor_type"`
	DeterminismMode string    `json:"determinism_mode"`
	// ArtifactPending is set when the event references an artifact that has
	// not been registered yet. Replay refuses runs with pending artifacts.
	ArtifactPending bool `json:"artifact_pending"`
}

// ArtifactRef declares an artifact referenced by an event payload.
type ArtifactRef struct {
	ArtifactHash     string `json:"artifact_hash"`
	ArtifactType     string `json:"artifact_type"`
	ByteSize         int64  `json:"byte_size"`
	ContentEncoding  string `json:"content_encoding"`
	MimeType         string `json:"mime_type"`
	RedactionProfile string `json:"redaction_profile"`
}

// CanonicalEvent is the wire form of an event append. Optional fields carry
// the documented defaults when omitted.
type CanonicalEvent struct {
	SchemaVersion   string         `json:"schema_version"`
	TraceID         string         `json:"trace_id"`
	RunID           string         `json:"run_id"`
	StepID          string         `json:"step_id"`
	ParentStepID    *string        `json:"parent_step_id,omitempty"`
	SequenceNo      int64          `json:"sequence_no"`
	EventType       string         `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp_utc"`
	ActorType       string         `json:"actor_type"`
	DeterminismMode string         `json:"determinism_mode"`
	ArtifactRefs    []ArtifactRef  `json:"artifact_refs"`
	RedactionStatus string         `json:"redaction_status"`
	Payload         map[string]any `json:"payload"`
}

// UnmarshalJSON applies the canonical defaults for omitted optional fields.
func (e *CanonicalEvent) UnmarshalJSON(data []byte) error {
	type alias CanonicalEvent
	raw := alias{
		SchemaVersion:   "1.0.0",
		ActorType:       ActorSDK,
		DeterminismMode: DeterminismLive,
		RedactionStatus: RedactionNotRequired,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Payload == nil {
		raw.Payload = map[string]any{}
	}
	for i := range raw.ArtifactRefs {
		raw.ArtifactRefs[i].applyDefaults()
	}
	*e = CanonicalEvent(raw)
	return nil
}

func (r *ArtifactRef) applyDefaults() {
	if r.ContentEncoding == "" {
		r.ContentEncoding = "identity"
	}
	if r.MimeType == "" {
		r.MimeType = "application/octet-stream"
	}
	if r.RedactionProfile == "" {
		r.RedactionProfile = "default"
	}
}
