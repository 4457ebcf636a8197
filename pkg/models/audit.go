package models

import "time"

// Audit actions recorded by the service.
const (
	AuditReplayCreated   = "replay_created"
	AuditReplayCancelled = "replay_cancelled"
	AuditRunFinalized    = "run_finalized"
)

// AuditLog is an append-only record of an actor-triggered action.
type AuditLog struct {
	AuditID    string         `json:"audit_id"`
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  time.Time      `json:"timestamp_utc"`
	Details    map[string]any `json:"details,omitempty"`
}
