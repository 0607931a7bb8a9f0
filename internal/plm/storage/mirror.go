package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies canonical files to secondary storage. Local disk stays authoritative.
type Mirror interface {
	Put(ctx context.Context, key, localPath string) error
	Remove(ctx context.Context, key string) error
}

// MinioMirror mirrors files into an S3-compatible bucket.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

// NewMinioMirror returns nil, nil when no endpoint is configured.
func NewMinioMirror(ctx context.Context, cfg config.MinIOConfig) (*MinioMirror, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "plm-files"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioMirror{client: client, bucket: bucket}, nil
}

// Put uploads localPath under key.
func (m *MinioMirror) Put(ctx context.Context, key, localPath string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	return nil
}

// Remove deletes key from the bucket.
func (m *MinioMirror) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("unmirror %s: %w", key, err)
	}
	return nil
}

// ObjectKey maps an absolute path under the files root to a slash-separated key.
func (l *Layout) ObjectKey(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return filepath.ToSlash(filepath.Base(path))
	}
	return filepath.ToSlash(rel)
}
