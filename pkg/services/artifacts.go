package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/traceline-io/traceline/pkg/blob"
	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/redaction"
	"github.com/traceline-io/traceline/pkg/store"
)

// ArtifactService registers content-addressed artifacts: hash-only
// pre-registrations and inline payloads that pass through the redaction
// engine before persistence.
type ArtifactService struct {
	store          store.Store
	blobs          blob.Store
	redaction      *redaction.Engine
	bucket         string
	blockOnFailure bool
}

// NewArtifactService creates an ArtifactService. When blockOnFailure is set,
// payloads whose redaction fails are recorded but their bytes are never
// persisted.
func NewArtifactService(st store.Store, blobs blob.Store, engine *redaction.Engine, bucket string, blockOnFailure bool) *ArtifactService {
	return &ArtifactService{
		store:          st,
		blobs:          blobs,
		redaction:      engine,
		bucket:         bucket,
		blockOnFailure: blockOnFailure,
	}
}

// ArtifactRegistration is the outcome of RegisterArtifact.
type ArtifactRegistration struct {
	ArtifactHash   string       `json:"artifact_hash"`
	UploadRequired bool         `json:"upload_required"`
	UploadTarget   UploadTarget `json:"upload_target"`
}

// UploadTarget locates where artifact bytes live or should be uploaded.
type UploadTarget struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// RegisterArtifact handles both registration modes. With an inline payload
// the bytes are redacted, hashed, and persisted; without one the caller
// pre-registers a hash and uploads the bytes later.
func (s *ArtifactService) RegisterArtifact(ctx context.Context, req models.RegisterArtifactRequest) (*ArtifactRegistration, error) {
	if req.ArtifactType == "" {
		return nil, NewValidationError("artifact_type is required", nil)
	}
	if req.ByteSize < 0 {
		return nil, NewValidationError("byte_size must be non-negative", map[string]any{
			"byte_size": req.ByteSize,
		})
	}
	applyArtifactDefaults(&req)

	payload, inline, err := decodeArtifactPayload(req)
	if err != nil {
		return nil, err
	}
	if !inline {
		return s.preRegister(ctx, req)
	}
	return s.registerInline(ctx, req, payload)
}

// preRegister records a caller-supplied hash so events can reference the
// artifact before its bytes arrive.
func (s *ArtifactService) preRegister(ctx context.Context, req models.RegisterArtifactRequest) (*ArtifactRegistration, error) {
	if req.ContentHash == "" {
		return nil, NewValidationError("content_hash is required when artifact payload is omitted", nil)
	}

	existing, err := s.store.GetArtifact(ctx, req.ContentHash)
	if err == nil {
		return registrationFor(existing, false), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}

	pending := s.artifactRow(req, req.ContentHash, models.ArtifactPending, "", req.ByteSize)
	if err := s.store.CreateArtifact(ctx, pending); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return nil, fmt.Errorf("failed to create pending artifact: %w", err)
	}

	return &ArtifactRegistration{
		ArtifactHash:   req.ContentHash,
		UploadRequired: true,
		UploadTarget: UploadTarget{
			Bucket:    s.bucket,
			ObjectKey: models.ObjectKeyForHash(req.ContentHash),
		},
	}, nil
}

func (s *ArtifactService) registerInline(ctx context.Context, req models.RegisterArtifactRequest, payload []byte) (*ArtifactRegistration, error) {
	result := s.redaction.Apply(payload, req.FieldPolicies, req.MimeType)

	if result.Status == models.RedactionFailed && s.blockOnFailure {
		// Bytes never leave the process: record the failure under the hash
		// of the original payload.
		originalHash := sha256Hex(payload)
		if err := s.recordFailedArtifact(ctx, req, originalHash, result.BlockedReason); err != nil {
			return nil, err
		}
		return &ArtifactRegistration{
			ArtifactHash:   originalHash,
			UploadRequired: false,
			UploadTarget: UploadTarget{
				Bucket:    s.bucket,
				ObjectKey: models.ObjectKeyForHash(originalHash),
			},
		}, nil
	}

	artifactHash := sha256Hex(result.Redacted)

	existing, err := s.store.GetArtifact(ctx, artifactHash)
	if err == nil {
		return registrationFor(existing, false), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}

	stored, err := s.blobs.Store(ctx, artifactHash, result.Redacted)
	if err != nil {
		return nil, NewDependencyError(fmt.Sprintf("artifact store write failed: %v", err))
	}

	status := models.ArtifactReady
	if result.Status == models.RedactionBlocked {
		status = models.ArtifactBlocked
	}
	row := s.artifactRow(req, artifactHash, status, result.BlockedReason, int64(len(result.Redacted)))
	row.StorageBucket = stored.Bucket
	row.StorageObjectKey = stored.ObjectKey
	if err := s.store.CreateArtifact(ctx, row); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	return &ArtifactRegistration{
		ArtifactHash:   artifactHash,
		UploadRequired: false,
		UploadTarget: UploadTarget{
			Bucket:    stored.Bucket,
			ObjectKey: stored.ObjectKey,
		},
	}, nil
}

// recordFailedArtifact inserts a failed row for the original-bytes hash
// unless one already exists.
func (s *ArtifactService) recordFailedArtifact(ctx context.Context, req models.RegisterArtifactRequest, hash, blockedReason string) error {
	_, err := s.store.GetArtifact(ctx, hash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up artifact: %w", err)
	}

	row := s.artifactRow(req, hash, models.ArtifactFailed, blockedReason, req.ByteSize)
	if err := s.store.CreateArtifact(ctx, row); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("failed to record failed artifact: %w", err)
	}
	return nil
}

func (s *ArtifactService) artifactRow(req models.RegisterArtifactRequest, hash, status, blockedReason string, byteSize int64) *models.Artifact {
	row := &models.Artifact{
		ArtifactHash:     hash,
		ArtifactType:     req.ArtifactType,
		ByteSize:         byteSize,
		MimeType:         req.MimeType,
		ContentEncoding:  req.ContentEncoding,
		RedactionProfile: req.RedactionProfile,
		StorageBucket:    s.bucket,
		StorageObjectKey: models.ObjectKeyForHash(hash),
		RetentionClass:   req.RetentionClass,
		Status:           status,
		HashAlgorithm:    "sha256",
		CreatedAt:        time.Now().UTC(),
	}
	if blockedReason != "" {
		row.BlockedReason = &blockedReason
	}
	return row
}

func registrationFor(artifact *models.Artifact, uploadRequired bool) *ArtifactRegistration {
	return &ArtifactRegistration{
		ArtifactHash:   artifact.ArtifactHash,
		UploadRequired: uploadRequired,
		UploadTarget: UploadTarget{
			Bucket:    artifact.StorageBucket,
			ObjectKey: artifact.StorageObjectKey,
		},
	}
}

func applyArtifactDefaults(req *models.RegisterArtifactRequest) {
	if req.MimeType == "" {
		req.MimeType = "application/octet-stream"
	}
	if req.ContentEncoding == "" {
		req.ContentEncoding = "identity"
	}
	if req.RedactionProfile == "" {
		req.RedactionProfile = "default"
	}
	if req.RetentionClass == "" {
		req.RetentionClass = models.DefaultRetentionClass
	}
}

// decodeArtifactPayload extracts the inline payload when one was supplied.
// An explicitly empty content_text still counts as inline.
func decodeArtifactPayload(req models.RegisterArtifactRequest) ([]byte, bool, error) {
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			return nil, false, NewValidationError("content_base64 is not valid base64", map[string]any{
				"error": err.Error(),
			})
		}
		return decoded, true, nil
	}
	if req.ContentText != nil {
		return []byte(*req.ContentText), true, nil
	}
	return nil, false, nil
}

func sha256Hex(payload []byte) string {
	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:])
}
