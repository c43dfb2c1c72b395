package uploads

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore is the slice of object storage the upload service needs:
// presigned URLs for direct client transfers and a stat call to verify that
// a confirmed object actually exists.
type BlobStore interface {
	PresignedPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (int64, error)
}

// MinioConfig describes the S3-compatible endpoint holding upload objects.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore is the minio-backed BlobStore.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object storage endpoint and ensures the
// bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("uploads: connect object storage: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("uploads: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("uploads: create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// PresignedPut returns a URL the client can PUT the object bytes to.
func (s *MinioStore) PresignedPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	signed, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("uploads: presign put: %w", err)
	}
	return signed.String(), nil
}

// PresignedGet returns a URL the client can fetch the object from.
func (s *MinioStore) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("uploads: presign get: %w", err)
	}
	return signed.String(), nil
}

// Stat returns the stored object's size, or an error when it is absent.
func (s *MinioStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("uploads: stat object: %w", err)
	}
	return info.Size, nil
}
