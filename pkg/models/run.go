// Package models contains the persistent domain types and the canonical
// event contract shared by the ingestion, query, and replay paths.
package models

import "time"

// Run statuses. A run is created running and transitions exactly once to a
// terminal status (success or failed), either by a terminal event or by an
// explicit finalize call.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Run source types.
const (
	SourceTypeLive   = "live"
	SourceTypeReplay = "replay"
)

// DefaultRetentionClass is applied to runs and artifacts registered without
// an explicit retention class.
const DefaultRetentionClass = "dev_short"

// Run is one recorded execution of an LLM-driven application.
type Run struct {
	RunID          string         `json:"run_id"`
	TraceID        string         `json:"trace_id"`
	AppID          string         `json:"app_id"`
	Environment    string         `json:"environment"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"started_at_utc"`
	EndedAt        *time.Time     `json:"ended_at_utc,omitempty"`
	SourceType     string         `json:"source_type"`
	SourceRunID    *string        `json:"source_run_id,omitempty"`
	Tags           map[string]any `json:"tags,omitempty"`
	RetentionClass string         `json:"retention_class"`
	LegalHold      bool           `json:"legal_hold"`
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}
