// Package reports implements the report pipeline: tenant-owned templates,
// queued generation jobs, status-tracked runs, rendered artifacts, and the
// schedule that produces runs on a cron.
package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pulsedeck/pulsedeck/pkg/config"
)

// ArtifactStore persists rendered report files and hands back a URL the
// run can expose to its requester.
type ArtifactStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// S3ArtifactStore stores report artifacts in S3-compatible object storage
type S3ArtifactStore struct {
	client   *s3.Client
	bucket   string
	endpoint string
}

// NewS3ArtifactStore creates an artifact store from report configuration.
// Static credentials take precedence; otherwise the default AWS credential
// chain applies.
func NewS3ArtifactStore(ctx context.Context, cfg config.ReportsConfig) (*S3ArtifactStore, error) {
	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3ArtifactStore{
		client:   client,
		bucket:   cfg.ArtifactBucket,
		endpoint: strings.TrimSuffix(cfg.S3Endpoint, "/"),
	}, nil
}

// Put uploads an artifact and returns its URL. A SHA256 checksum rides
// along as object metadata.
func (s *S3ArtifactStore) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	hash := sha256.Sum256(content)
	checksum := hex.EncodeToString(hash[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return s.url(key), nil
}

// Get downloads an artifact
func (s *S3ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	defer result.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes an artifact
func (s *S3ArtifactStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// HealthCheck verifies bucket reachability
func (s *S3ArtifactStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("artifact store health check failed: %w", err)
	}
	return nil
}

func (s *S3ArtifactStore) url(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
