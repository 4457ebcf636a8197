package models

import "time"

// Artifact statuses.
//
// pending: row exists but bytes were never uploaded (pre-registration or an
// ingestion placeholder). ready/blocked: bytes are persisted and immutable.
// failed: redaction failed and byte persistence was blocked by policy.
const (
	ArtifactPending = "pending"
	ArtifactReady   = "ready"
	ArtifactBlocked = "blocked"
	ArtifactFailed  = "failed"
)

// PlaceholderLocation is the bucket/object-key sentinel stored on artifact
// rows created by ingestion before the artifact is registered.
const PlaceholderLocation = "pending"

// Artifact is a content-addressed blob: its identity is the SHA-256 hex of
// the post-redaction bytes (or the caller-supplied hash for pending
// pre-registrations).
type Artifact struct {
	ArtifactHash     string    `json:"artifact_hash"`
	ArtifactType     string    `json:"artifact_type"`
	ByteSize         int64     `json:"byte_size"`
	MimeType         string    `json:"mime_type"`
	ContentEncoding  string    `json:"content_encoding"`
	RedactionProfile string    `json:"redaction_profile"`
	StorageBucket    string    `json:"storage_bucket"`
	StorageObjectKey string    `json:"storage_object_key"`
	RetentionClass   string    `json:"retention_class"`
	Status           string    `json:"status"`
	HashAlgorithm    string    `json:"hash_algorithm"`
	BlockedReason    *string   `json:"blocked_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at_utc"`
}

// EventArtifact links an event to an artifact it references, with the role
// the artifact plays in the event payload (e.g. "model_request").
type EventArtifact struct {
	EventID       string `json:"event_id"`
	ArtifactHash  string `json:"artifact_hash"`
	ReferenceRole string `json:"reference_role"`
}

// ObjectKeyForHash derives the deterministic object key for a content hash:
// the first two hex characters, a slash, then the full hash.
func ObjectKeyForHash(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2] + "/" + hash
}
