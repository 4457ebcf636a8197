package models

import "time"

// CreateRunRequest opens a new run. SourceType, Tags, and RetentionClass are
// optional; omitted values take the documented defaults.
type CreateRunRequest struct {
	AppID          string         `json:"app_id"`
	Environment    string         `json:"environment"`
	SourceType     string         `json:"source_type"`
	Tags           map[string]any `json:"tags"`
	RetentionClass string         `json:"retention_class"`
}

// IngestEventRequest appends one canonical event to a run.
type IngestEventRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Event          *CanonicalEvent `json:"event"`
}

// FinalizeRunRequest forces a run to a terminal status without a terminal
// event, e.g. when the recording SDK died before it could emit one.
type FinalizeRunRequest struct {
	FinalStatus      string  `json:"final_status"`
	TerminalEventRef *string `json:"terminal_event_ref,omitempty"`
}

// RegisterArtifactRequest registers artifact content. With ContentBase64 or
// ContentText set, the payload is redacted, hashed, and persisted inline;
// with neither, ContentHash pre-registers an artifact for a later upload.
// ContentText is a pointer so an explicit empty payload stays distinct from
// an omitted one.
type RegisterArtifactRequest struct {
	ArtifactType     string            `json:"artifact_type"`
	ByteSize         int64             `json:"byte_size"`
	MimeType         string            `json:"mime_type"`
	RedactionProfile string            `json:"redaction_profile"`
	ContentHash      string            `json:"content_hash"`
	ContentBase64    string            `json:"content_base64"`
	ContentText      *string           `json:"content_text"`
	RetentionClass   string            `json:"retention_class"`
	ContentEncoding  string            `json:"content_encoding"`
	FieldPolicies    map[string]string `json:"field_policies"`
}

// CreateReplayRequest asks for a replay of a terminal source run.
type CreateReplayRequest struct {
	SourceRunID       string             `json:"source_run_id"`
	ForkStepID        *string            `json:"fork_step_id,omitempty"`
	OverrideProfile   OverrideProfile    `json:"override_profile"`
	ReplayPreferences *ReplayPreferences `json:"replay_preferences,omitempty"`
}

// ListRunsParams filters and pages the run listing. PageToken is the
// started_at cursor from a previous page.
type ListRunsParams struct {
	AppID       string
	Environment string
	Status      string
	SourceType  string
	FromUTC     *time.Time
	ToUTC       *time.Time
	PageSize    int
	PageToken   string
}

// ListEventsParams filters and pages a run's event listing. PageToken is the
// sequence_no cursor from a previous page.
type ListEventsParams struct {
	EventType    string
	StepID       string
	SequenceFrom *int64
	SequenceTo   *int64
	PageSize     int
	PageToken    string
}
