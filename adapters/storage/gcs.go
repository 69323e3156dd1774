// Package storage keeps generated media artifacts.
package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/nexus/domain/repositories"
)

// GCSStore writes artifacts to a Cloud Storage bucket
type GCSStore struct {
	client *gcs.Client
	bucket string
	logger *zap.Logger
}

var _ repositories.ArtifactStore = (*GCSStore)(nil)

// GCSConfig holds configuration for the Cloud Storage store
type GCSConfig struct {
	Bucket string
	// CredentialsFile is a service account key. Empty means application
	// default credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string
}

// NewGCSStore creates a store writing to config.Bucket
func NewGCSStore(ctx context.Context, config GCSConfig, logger *zap.Logger) (*GCSStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	c, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: c, bucket: config.Bucket, logger: logger}, nil
}

// Close releases the storage client
func (s *GCSStore) Close() error { return s.client.Close() }

// Put uploads r as objectName and returns its public URL
func (s *GCSStore) Put(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(objectName)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", objectName, err)
	}

	s.logger.Info("Artifact uploaded",
		zap.String("bucket", s.bucket),
		zap.String("object", objectName),
		zap.Int64("bytes", n))
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectName), nil
}
