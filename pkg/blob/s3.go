package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/traceline-io/traceline/pkg/models"
)

// S3 stores artifact payloads in an S3 (or S3-compatible) bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds the client from the default AWS credential chain, overridden
// by a static key pair and custom endpoint when configured.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		endpoint := normalizeEndpoint(cfg.S3Endpoint, cfg.S3Secure)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			// S3-compatible providers (MinIO and friends) do not resolve
			// bucket subdomains.
			o.UsePathStyle = true
		})
	}

	return &S3{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

// normalizeEndpoint prepends a scheme when the configured endpoint lacks
// one; S3Secure selects between https and http.
func normalizeEndpoint(endpoint string, secure bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (s *S3) Store(ctx context.Context, artifactHash string, payload []byte) (StoredObject, error) {
	key := models.ObjectKeyForHash(artifactHash)
	exists, err := s.Exists(ctx, artifactHash)
	if err != nil {
		return StoredObject{}, err
	}
	if !exists {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(payload),
		})
		if err != nil {
			return StoredObject{}, fmt.Errorf("put artifact object: %w", err)
		}
	}
	return StoredObject{Bucket: s.bucket, ObjectKey: key}, nil
}

func (s *S3) Exists(ctx context.Context, artifactHash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(models.ObjectKeyForHash(artifactHash)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head artifact object: %w", err)
	}
	return true, nil
}
