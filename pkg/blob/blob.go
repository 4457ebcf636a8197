// Package blob persists artifact payloads under content-addressed object
// keys. Implementations are write-once: storing a hash that already exists
// is a no-op, which is what makes registration idempotent.
package blob

import (
	"context"
	"fmt"
	"strings"
)

// StoredObject locates a persisted payload.
type StoredObject struct {
	Bucket    string
	ObjectKey string
}

// Store is the artifact byte sink.
type Store interface {
	// Store persists payload under artifactHash unless it is already
	// present, and returns the object location either way.
	Store(ctx context.Context, artifactHash string, payload []byte) (StoredObject, error)
	// Exists reports whether bytes for artifactHash are present.
	Exists(ctx context.Context, artifactHash string) (bool, error)
}

// Config selects and parameterizes the backing store.
type Config struct {
	// Mode is "local" or "s3".
	Mode   string
	Bucket string
	// LocalDir is the filesystem root for mode local.
	LocalDir string
	// S3 settings; Endpoint and the key pair are optional and support
	// S3-compatible providers such as MinIO.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Secure    bool
}

// New builds the store selected by cfg.Mode.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Mode) {
	case "s3":
		return NewS3(ctx, cfg)
	case "local":
		return NewLocal(cfg.LocalDir, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown artifact store mode %q", cfg.Mode)
	}
}
