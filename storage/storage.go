package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/whisprlabs/whispr/server/config"
	"go.uber.org/zap"
)

// Store persists uploaded media (avatars, node icons) and returns a public
// URL for each object.
type Store interface {
	Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, bucket, object string) error
}

// MinioStore is a Store backed by a MinIO / S3-compatible endpoint. Buckets
// are created on first use and opened for anonymous reads so the returned
// URLs resolve without signing.
type MinioStore struct {
	client  *minio.Client
	baseURL string
	logger  *zap.Logger
}

// NewMinioStore connects to the configured endpoint and ensures each listed
// bucket exists with a public-read policy.
func NewMinioStore(cfg config.StorageConfig, logger *zap.Logger, buckets ...string) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}

	s := &MinioStore{client: client, baseURL: cfg.PublicBaseURL, logger: logger}
	ctx := context.Background()
	for _, bucket := range buckets {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		s.logger.Info("bucket created", zap.String("bucket", bucket))
	}

	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    []string{"s3:GetObject"},
				"Resource":  []string{"arn:aws:s3:::" + bucket + "/*"},
			},
		},
	}
	policyJSON, _ := json.Marshal(policy)
	if err := s.client.SetBucketPolicy(ctx, bucket, string(policyJSON)); err != nil {
		s.logger.Warn("bucket policy not applied", zap.String("bucket", bucket), zap.Error(err))
	}
	return nil
}

// Put uploads an object and returns its public URL.
func (s *MinioStore) Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, url.PathEscape(object)), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *MinioStore) Remove(ctx context.Context, bucket, object string) error {
	return s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
}
