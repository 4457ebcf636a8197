package api

import (
	"time"

	"github.com/traceline-io/traceline/pkg/models"
)

// CreateRunResponse is the data payload of POST /api/v1/runs.
type CreateRunResponse struct {
	RunID   string `json:"run_id"`
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

// IngestEventResponse is the data payload of POST /api/v1/runs/:run_id/events.
// Accepted is false when the idempotency key coalesced to an earlier event.
type IngestEventResponse struct {
	EventID            string   `json:"event_id"`
	Accepted           bool     `json:"accepted"`
	ValidationWarnings []string `json:"validation_warnings"`
}

// FinalizeRunResponse is the data payload of POST /api/v1/runs/:run_id/finalize.
type FinalizeRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunSummary is the run projection returned by the listing and detail routes.
type RunSummary struct {
	RunID          string     `json:"run_id"`
	TraceID        string     `json:"trace_id"`
	AppID          string     `json:"app_id"`
	Environment    string     `json:"environment"`
	Status         string     `json:"status"`
	SourceType     string     `json:"source_type"`
	SourceRunID    *string    `json:"source_run_id"`
	StartedAt      time.Time  `json:"started_at_utc"`
	EndedAt        *time.Time `json:"ended_at_utc"`
	RetentionClass string     `json:"retention_class"`
}

// ListRunsResponse is the data payload of GET /api/v1/runs.
type ListRunsResponse struct {
	Items         []RunSummary `json:"items"`
	NextPageToken *string      `json:"next_page_token"`
}

// RunDetailResponse is the data payload of GET /api/v1/runs/:run_id. Counters
// holds per-event-type counts plus total_events.
type RunDetailResponse struct {
	Run      RunSummary     `json:"run"`
	Counters map[string]int `json:"counters"`
}

// EventView is the event projection returned by GET /api/v1/runs/:run_id/events.
type EventView struct {
	EventID         string         `json:"event_id"`
	RunID           string         `json:"run_id"`
	StepID          string         `json:"step_id"`
	SequenceNo      int64          `json:"sequence_no"`
	EventType       string         `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp_utc"`
	DeterminismMode string         `json:"determinism_mode"`
	RedactionStatus string         `json:"redaction_status"`
	Payload         map[string]any `json:"payload"`
}

// ListEventsResponse is the data payload of GET /api/v1/runs/:run_id/events.
type ListEventsResponse struct {
	Items         []EventView `json:"items"`
	NextPageToken *string     `json:"next_page_token"`
}

// ArtifactMetadataResponse is the data payload of GET /api/v1/artifacts/:artifact_hash.
// Byte content is never returned, only metadata.
type ArtifactMetadataResponse struct {
	ArtifactHash     string  `json:"artifact_hash"`
	ArtifactType     string  `json:"artifact_type"`
	ByteSize         int64   `json:"byte_size"`
	MimeType         string  `json:"mime_type"`
	ContentEncoding  string  `json:"content_encoding"`
	RedactionProfile string  `json:"redaction_profile"`
	Status           string  `json:"status"`
	BlockedReason    *string `json:"blocked_reason"`
	StorageBucket    string  `json:"storage_bucket"`
	StorageObjectKey string  `json:"storage_object_key"`
}

// CreateReplayResponse is the data payload of POST /api/v1/replays.
type CreateReplayResponse struct {
	ReplaySessionID string `json:"replay_session_id"`
	Status          string `json:"status"`
}

// ReplayStatusResponse is the data payload of GET /api/v1/replays/:replay_session_id.
type ReplayStatusResponse struct {
	ReplaySessionID   string   `json:"replay_session_id"`
	Status            string   `json:"status"`
	DerivedRunID      *string  `json:"derived_run_id"`
	ReasonCodes       []string `json:"reason_codes"`
	FailureReasonCode *string  `json:"failure_reason_code"`
}

// CancelReplayResponse is the data payload of POST /api/v1/replays/:replay_session_id/cancel.
type CancelReplayResponse struct {
	Status      string    `json:"status"`
	CancelledAt time.Time `json:"cancelled_at_utc"`
}

func runSummary(run *models.Run) RunSummary {
	return RunSummary{
		RunID:          run.RunID,
		TraceID:        run.TraceID,
		AppID:          run.AppID,
		Environment:    run.Environment,
		Status:         run.Status,
		SourceType:     run.SourceType,
		SourceRunID:    run.SourceRunID,
		StartedAt:      run.StartedAt,
		EndedAt:        run.EndedAt,
		RetentionClass: run.RetentionClass,
	}
}

func eventView(event *models.Event) EventView {
	return EventView{
		EventID:         event.EventID,
		RunID:           event.RunID,
		StepID:          event.StepID,
		SequenceNo:      event.SequenceNo,
		EventType:       event.EventType,
		Timestamp:       event.Timestamp,
		DeterminismMode: event.DeterminismMode,
		RedactionStatus: event.RedactionStatus,
		Payload:         event.Payload,
	}
}

func artifactMetadata(artifact *models.Artifact) ArtifactMetadataResponse {
	return ArtifactMetadataResponse{
		ArtifactHash:     artifact.ArtifactHash,
		ArtifactType:     artifact.ArtifactType,
		ByteSize:         artifact.ByteSize,
		MimeType:         artifact.MimeType,
		ContentEncoding:  artifact.ContentEncoding,
		RedactionProfile: artifact.RedactionProfile,
		Status:           artifact.Status,
		BlockedReason:    artifact.BlockedReason,
		StorageBucket:    artifact.StorageBucket,
		StorageObjectKey: artifact.StorageObjectKey,
	}
}

// optionalToken converts the service layer's empty-string "no next page"
// into an explicit null on the wire.
func optionalToken(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}
