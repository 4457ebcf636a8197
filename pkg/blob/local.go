package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/traceline-io/traceline/pkg/models"
)

// Local stores artifact payloads as files under a base directory, mirroring
// the bucket/prefix layout of the object-store backend.
type Local struct {
	baseDir string
	bucket  string
}

// NewLocal creates the base directory if needed.
func NewLocal(baseDir, bucket string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Local{baseDir: baseDir, bucket: bucket}, nil
}

func (l *Local) pathFor(artifactHash string) string {
	key := models.ObjectKeyForHash(artifactHash)
	return filepath.Join(l.baseDir, filepath.FromSlash(key))
}

func (l *Local) Store(_ context.Context, artifactHash string, payload []byte) (StoredObject, error) {
	path := l.pathFor(artifactHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("create artifact prefix directory: %w", err)
	}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return StoredObject{}, fmt.Errorf("write artifact: %w", err)
		}
	case err != nil:
		return StoredObject{}, fmt.Errorf("stat artifact: %w", err)
	}

	return StoredObject{Bucket: l.bucket, ObjectKey: models.ObjectKeyForHash(artifactHash)}, nil
}

func (l *Local) Exists(_ context.Context, artifactHash string) (bool, error) {
	_, err := os.Stat(l.pathFor(artifactHash))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return true, nil
}
